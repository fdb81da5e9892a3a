package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/echoshell/internal/service"
)

const sampleSSHConfig = `
Host core-sw
  HostName 10.1.1.1
  User netops
  Port 2222
  IdentityFile ~/.ssh/id_core

Host *
  User fallback
`

func TestResolveTargets_SSHConfig(t *testing.T) {
	targets, err := resolveTargets([]string{"core-sw", " 10.2.2.2:830 ", ""}, strings.NewReader(sampleSSHConfig), target{Password: "pw"})
	require.NoError(t, err)
	require.Len(t, targets, 2)

	core := targets[0]
	assert.Equal(t, "10.1.1.1", core.Host)
	assert.Equal(t, 2222, core.Port)
	assert.Equal(t, "netops", core.User)
	assert.Equal(t, "pw", core.Password)
	assert.True(t, strings.HasSuffix(core.KeyFile, "/.ssh/id_core"))

	plain := targets[1]
	assert.Equal(t, "10.2.2.2", plain.Host)
	assert.Equal(t, 830, plain.Port)
	assert.Equal(t, "fallback", plain.User)
}

func TestResolveTargets_FlagUserWins(t *testing.T) {
	targets, err := resolveTargets([]string{"core-sw"}, strings.NewReader(sampleSSHConfig), target{User: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "admin", targets[0].User)
}

func TestResolveTargets_Errors(t *testing.T) {
	_, err := resolveTargets([]string{"sw1"}, nil, target{})
	assert.ErrorContains(t, err, "no user")

	_, err = resolveTargets([]string{" "}, nil, target{User: "admin"})
	assert.ErrorContains(t, err, "no hosts")

	targets, err := resolveTargets([]string{"sw1"}, nil, target{User: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 22, targets[0].Port)
}

func TestRunAll_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req service.BatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Host == "10.0.0.2" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"code":"LOGIN_FAILED","message":"10.0.0.2 ssh login error: auth"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(service.BatchResult{RunID: "r1", Host: req.Host, Transcript: "SIM#" + strings.Join(req.Commands, ",")})
	}))
	defer srv.Close()

	targets := []target{
		{Alias: "a", Host: "10.0.0.1", Port: 22, User: "admin"},
		{Alias: "b", Host: "10.0.0.2", Port: 22, User: "admin"},
	}
	results := runAll(context.Background(), srv.Client(), srv.URL+"/api/v1/shell/batch", targets, []string{"display clock"}, nil, 2)
	require.Len(t, results, 2)

	assert.Empty(t, results[0].Err)
	assert.Equal(t, "SIM#display clock", results[0].Result.Transcript)

	assert.Equal(t, http.StatusBadGateway, results[1].Status)
	assert.Contains(t, results[1].Err, "LOGIN_FAILED")
	assert.Nil(t, results[1].Result)
}

func TestRunAll_BlankCommandKeepsExtraEnterIndex(t *testing.T) {
	var got service.BatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(service.BatchResult{RunID: "r1", Host: got.Host})
	}))
	defer srv.Close()

	cmds := splitCommands("display version;;save")
	extra, err := parseIndexes("2")
	require.NoError(t, err)
	results := runAll(context.Background(), srv.Client(), srv.URL+"/api/v1/shell/batch",
		[]target{{Alias: "a", Host: "10.0.0.1", Port: 22, User: "admin"}}, cmds, extra, 1)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Err)

	require.Len(t, got.Commands, 3)
	assert.Equal(t, "save", got.Commands[got.ExtraEnter[0]], "下标 2 仍指向 save")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, []string{"display version", "", "display clock"}, splitCommands(" display version ;; display clock;"))
	assert.Empty(t, splitCommands(" ; ;"))

	idx, err := parseIndexes("0, 2,")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, idx)
	_, err = parseIndexes("x")
	assert.Error(t, err)

	assert.Equal(t, "a\nb\n... (1 more lines)", trimLines("a\r\nb\r\nc", 2))
	assert.Equal(t, "a\nb", trimLines("a\rb", 0))
}
