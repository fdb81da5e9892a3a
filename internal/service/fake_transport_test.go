package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/pkg/ssh"
)

// fakeTransport 记录拨号次数，可注入拨号或开通道错误
type fakeTransport struct {
	dialErr error
	openErr error
	// respond 返回非空时替代默认回显
	respond func(cmd string) string

	dials int32
	mu    sync.Mutex
	links []*fakeLink
}

func (t *fakeTransport) Dial(_ context.Context, info *ssh.ConnectionInfo) (Link, error) {
	atomic.AddInt32(&t.dials, 1)
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	l := &fakeLink{openErr: t.openErr, user: info.Username, respond: t.respond}
	t.mu.Lock()
	t.links = append(t.links, l)
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) dialCount() int { return int(atomic.LoadInt32(&t.dials)) }

type fakeLink struct {
	openErr error
	user    string
	respond func(cmd string) string
	opened  int32
	closed  int32
}

// OpenShell 返回一个回显式的假设备：每行输入回显后输出 "ok <cmd>" 与提示符
func (l *fakeLink) OpenShell(context.Context) (io.ReadWriteCloser, error) {
	if l.openErr != nil {
		return nil, l.openErr
	}
	atomic.AddInt32(&l.opened, 1)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		defer outW.Close()
		if _, err := io.WriteString(outW, "Welcome "+l.user+"\r\nFAKE#"); err != nil {
			return
		}
		buf := make([]byte, 1024)
		for {
			n, err := inR.Read(buf)
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(string(buf[:n]))
			if cmd == "" {
				continue
			}
			out := cmd + "\r\nok " + cmd + "\r\nFAKE#"
			if l.respond != nil {
				if r := l.respond(cmd); r != "" {
					out = r
				}
			}
			if _, err := io.WriteString(outW, out); err != nil {
				return
			}
		}
	}()
	return &pipeShell{r: outR, w: inW, closers: []io.Closer{inW, outR}}, nil
}

func (l *fakeLink) Close() error {
	atomic.AddInt32(&l.closed, 1)
	return nil
}

type pipeShell struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer
}

func (p *pipeShell) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeShell) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeShell) Close() error {
	for _, c := range p.closers {
		_ = c.Close()
	}
	return nil
}

// testConfig 短轮询、UTF-8 解码的测试配置
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
shell:
  encoding: utf-8
  sleep_time: 20ms
  timeout: 1s
ssh:
  connect_timeout: 3s
  channel_timeout: 3s
  keep_alive_interval: 0s
archive:
  base_dir: ` + filepath.Join(dir, "transcripts") + `
database:
  sqlite:
    path: ` + filepath.Join(dir, "runs.db") + `
` + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}
