package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/echo"
	"github.com/sshcollectorpro/echoshell/pkg/logger"
	"github.com/sshcollectorpro/echoshell/pkg/ssh"
)

// Transport 建立到设备的传输连接
type Transport interface {
	Dial(ctx context.Context, info *ssh.ConnectionInfo) (Link, error)
}

// Link 已认证的传输连接，可在其上打开一个交互式 shell 通道
type Link interface {
	OpenShell(ctx context.Context) (io.ReadWriteCloser, error)
	Close() error
}

// SSHTransport 基于 pkg/ssh 的传输实现；每次 Dial 按当前配置构建客户端
type SSHTransport struct {
	cfg *config.Config
}

func NewSSHTransport(cfg *config.Config) *SSHTransport {
	return &SSHTransport{cfg: cfg}
}

func (t *SSHTransport) Dial(ctx context.Context, info *ssh.ConnectionInfo) (Link, error) {
	sc := t.cfg.SSH
	policy, err := ssh.NewPolicy(sc.HostKeyPolicy, sc.KnownHostsFile, sc.KeyPassphrase)
	if err != nil {
		return nil, err
	}
	client := ssh.NewClient(&ssh.Config{
		Timeout:        sc.ConnectTimeout,
		ChannelTimeout: sc.ChannelTimeout,
		KeepAlive:      sc.KeepAliveInterval,
		Term:           sc.Term,
		Policy:         policy,
	})
	if err := client.Connect(ctx, info); err != nil {
		return nil, err
	}
	return sshLink{client: client}, nil
}

type sshLink struct {
	client *ssh.Client
}

func (l sshLink) OpenShell(ctx context.Context) (io.ReadWriteCloser, error) {
	sh, err := l.client.OpenShell(ctx)
	if err != nil {
		return nil, err
	}
	return sh, nil
}

func (l sshLink) Close() error { return l.client.Close() }

// SessionConfig 单次会话的目标与回显解析参数
type SessionConfig struct {
	Host    string
	Port    int
	KeyFile string
	Matcher echo.Matcher
	Filter  *echo.Filter
	Options echo.Options
	// ConnectTimeout 登录（建连+开通道）的总时限，0 表示只受 ctx 约束
	ConnectTimeout time.Duration
}

// Session 一次登录会话：至多一个 shell 通道，一个读取协程
type Session struct {
	cfg       SessionConfig
	transport Transport
	log       *logrus.Entry

	mu      sync.Mutex
	link    Link
	channel io.ReadWriteCloser
	buf     *echo.Transcript
	reader  *echo.Reader
	runner  *echo.Runner
}

func NewSession(transport Transport, cfg SessionConfig) *Session {
	cfg.Options = cfg.Options.WithDefaults()
	return &Session{
		cfg:       cfg,
		transport: transport,
		log:       logger.ForHost(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		buf:       echo.NewTranscript(),
	}
}

// Login 建立连接、打开 shell 通道并启动读取协程，随后等待一个轮询间隔让欢迎信息到达
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		return fmt.Errorf("%w: shell channel already open", echo.ErrChannel)
	}

	loginCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	link, err := s.transport.Dial(loginCtx, &ssh.ConnectionInfo{
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		Username: username,
		Password: password,
		KeyFile:  s.cfg.KeyFile,
	})
	if err != nil {
		return err
	}
	channel, err := link.OpenShell(loginCtx)
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("open shell: %w", err)
	}
	s.link = link
	s.channel = channel

	s.reader = echo.NewReader(channel, s.cfg.Filter, s.cfg.Matcher, s.buf)
	s.reader.Start()
	s.runner = echo.NewRunner(channel, s.buf, s.cfg.Matcher, s.cfg.Options, s.reader.Done())
	s.log.Debugf("shell opened for %s", username)

	// 等待登录欢迎信息
	t := time.NewTimer(s.cfg.Options.SleepTime)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 在已打开的通道上执行一条命令
func (s *Session) Run(ctx context.Context, command string, extraEnter bool) (*echo.Result, error) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		return nil, fmt.Errorf("%w: session not logged in", echo.ErrChannel)
	}
	return runner.Run(ctx, command, extraEnter)
}

// RunMasked 执行不应出现在日志中的输入（如 enable 密码）
func (s *Session) RunMasked(ctx context.Context, command string) (*echo.Result, error) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		return nil, fmt.Errorf("%w: session not logged in", echo.ErrChannel)
	}
	return runner.RunMasked(ctx, command)
}

// Transcript 整个会话的回显全文（分页提示行已剔除）
func (s *Session) Transcript() string {
	return s.buf.Total()
}

// Close 关闭通道与连接，重复调用安全
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
		s.channel = nil
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			errs = append(errs, err)
		}
		s.link = nil
	}
	s.runner = nil
	return errors.Join(errs...)
}
