package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/database"
)

func loadServerConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  host: 127.0.0.1
  port: 18080
  mode: test
database:
  sqlite:
    path: ` + filepath.Join(dir, "runs.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNewHTTPServer_FromConfig(t *testing.T) {
	cfg := loadServerConfig(t)
	srv := newHTTPServer(cfg, nil)

	assert.Equal(t, "127.0.0.1:18080", srv.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, srv.ReadTimeout)
	require.NotNil(t, srv.Handler)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "disabled", body.Data["database"])

	// 未启用数据库时执行记录不可用
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/shell/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewHTTPServer_WithDatabase(t *testing.T) {
	cfg := loadServerConfig(t)
	db, err := database.Open(cfg.Database.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	srv := newHTTPServer(cfg, db)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/shell/runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/shell/batch", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "空请求体应返回 400")
}
