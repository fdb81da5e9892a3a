package simulate

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func startDevice(t *testing.T, cfg *Config) *Server {
	t.Helper()
	srv, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

type shellConn struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	out    *syncBuffer
}

// syncBuffer 供后台协程写、测试协程读
type syncBuffer struct {
	ch  chan []byte
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.ch <- append([]byte(nil), p...)
	return len(p), nil
}

// waitFor 收集输出直到出现 want
func (b *syncBuffer) waitFor(t *testing.T, want string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !strings.Contains(b.buf.String(), want) {
		select {
		case p := <-b.ch:
			b.buf.Write(p)
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got %q", want, b.buf.String())
		}
	}
	return b.buf.String()
}

func dialShell(t *testing.T, srv *Server, user, pass string) *shellConn {
	t.Helper()
	client, err := ssh.Dial("tcp", srv.Addr().String(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.FixedHostKey(srv.HostKey()),
		Timeout:         3 * time.Second,
	})
	require.NoError(t, err)
	sess, err := client.NewSession()
	require.NoError(t, err)
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	out := &syncBuffer{ch: make(chan []byte, 64)}
	sess.Stdout = out
	require.NoError(t, sess.RequestPty("vt100", 24, 80, ssh.TerminalModes{}))
	require.NoError(t, sess.Shell())
	t.Cleanup(func() {
		_ = sess.Close()
		_ = client.Close()
	})
	return &shellConn{client: client, sess: sess, stdin: stdin, out: out}
}

func TestServer_PromptAndCommand(t *testing.T) {
	srv := startDevice(t, &Config{
		Password: "nova",
		Banner:   "Welcome",
		Commands: []CommandConfig{{CLI: "display clock", Output: "10:00:00 UTC\n"}},
	})
	sh := dialShell(t, srv, "admin", "nova")

	out := sh.out.waitFor(t, "SIM#")
	assert.Contains(t, out, "Welcome\r\n")

	_, err := io.WriteString(sh.stdin, "display clock\n")
	require.NoError(t, err)
	out = sh.out.waitFor(t, "10:00:00 UTC\r\nSIM#")
	assert.Contains(t, out, "display clock\r\n", "设备回显命令行")

	_, err = io.WriteString(sh.stdin, "nope\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "Unrecognized command")
}

func TestServer_RejectsWrongPassword(t *testing.T) {
	srv := startDevice(t, &Config{Password: "nova"})
	_, err := ssh.Dial("tcp", srv.Addr().String(), &ssh.ClientConfig{
		User:            "admin",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         3 * time.Second,
	})
	assert.Error(t, err)
}

func TestServer_Pagination(t *testing.T) {
	srv := startDevice(t, &Config{
		Password:  "nova",
		PageLines: 2,
		Commands:  []CommandConfig{{CLI: "show", Output: "a\nb\nc\nd\ne"}},
	})
	sh := dialShell(t, srv, "admin", "nova")
	sh.out.waitFor(t, "SIM#")

	_, err := io.WriteString(sh.stdin, "show\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "a\r\nb\r\n"+DefaultMoreEcho)

	_, err = io.WriteString(sh.stdin, " ")
	require.NoError(t, err)
	sh.out.waitFor(t, eraseMore+"c\r\nd\r\n"+DefaultMoreEcho)

	_, err = io.WriteString(sh.stdin, " ")
	require.NoError(t, err)
	sh.out.waitFor(t, eraseMore+"e\r\nSIM#")
}

func TestServer_Confirm(t *testing.T) {
	srv := startDevice(t, &Config{
		Password: "nova",
		Commands: []CommandConfig{{CLI: "save", Output: "Saved.", Confirm: true}},
	})
	sh := dialShell(t, srv, "admin", "nova")
	sh.out.waitFor(t, "SIM#")

	_, err := io.WriteString(sh.stdin, "save\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "Continue? [Y/N]:")

	_, err = io.WriteString(sh.stdin, "\r")
	require.NoError(t, err)
	sh.out.waitFor(t, "Saved.\r\nSIM#")
}

func TestServer_OutputDirAndConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "display_version.txt"), []byte("V7.1\n"), 0o644))

	cfgPath := filepath.Join(dir, "simulate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
hostname: H3C
prompt_suffix: ">"
password: nova
output_dir: `+dir+`
commands:
  - cli: display clock
    output: "10:00"
`), 0o644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "H3C", cfg.Hostname)
	require.Len(t, cfg.Commands, 1)

	srv := startDevice(t, cfg)
	sh := dialShell(t, srv, "admin", "nova")
	sh.out.waitFor(t, "H3C>")

	_, err = io.WriteString(sh.stdin, "display version\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "V7.1\r\nH3C>")
}

func TestServer_GBKOutput(t *testing.T) {
	srv := startDevice(t, &Config{
		Password: "nova",
		Encoding: "gbk",
		Commands: []CommandConfig{{CLI: "show", Output: "中文"}},
	})
	sh := dialShell(t, srv, "admin", "nova")
	sh.out.waitFor(t, "SIM#")

	_, err := io.WriteString(sh.stdin, "show\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "\xd6\xd0\xce\xc4\r\nSIM#")
}

func TestLoadOrCreateHostKey_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host.pem")
	first, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	second, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestServer_Reload(t *testing.T) {
	srv := startDevice(t, &Config{Password: "nova"})
	require.NoError(t, srv.Reload(&Config{Password: "nova", Hostname: "R2", Commands: []CommandConfig{{CLI: "ping", Output: "pong"}}}))

	sh := dialShell(t, srv, "admin", "nova")
	sh.out.waitFor(t, "R2#")
	_, err := io.WriteString(sh.stdin, "ping\n")
	require.NoError(t, err)
	sh.out.waitFor(t, "pong\r\nR2#")

	assert.Error(t, srv.Reload(&Config{AuthorizedKeys: []string{"not a key"}}))
}
