package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

var ErrNotConnected = errors.New("SSH connection not established")

// Config SSH配置
type Config struct {
	// Timeout 建连与握手的总超时
	Timeout time.Duration `yaml:"timeout"`
	// ChannelTimeout 打开 shell 通道的超时
	ChannelTimeout time.Duration `yaml:"channel_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	// Term 首选终端类型，失败后依次回退 vt100/xterm/ansi/dumb
	Term   string       `yaml:"term"`
	Policy PromptPolicy `yaml:"-"`
}

// Client SSH客户端，一个 Client 对应一条传输连接
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.RWMutex
	info       *ConnectionInfo
	stopKeep   context.CancelFunc
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Address host:port
func (i *ConnectionInfo) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	if config.Policy == nil {
		config.Policy = AcceptAllPolicy{}
	}
	return &Client{config: config}
}

// clientConfig 构建握手参数，算法列表兼容老旧网络设备
func (c *Client) clientConfig(info *ConnectionInfo) (*ssh.ClientConfig, error) {
	hostKey, err := hostKeyCallback(c.config.Policy)
	if err != nil {
		return nil, err
	}
	auth, err := c.authMethods(info)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			// 支持旧版本的MAC算法
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		// 支持旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ssh-rsa",
		},
	}, nil
}

func (c *Client) authMethods(info *ConnectionInfo) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if info.KeyFile != "" {
		signer, err := c.loadKey(info.KeyFile)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if info.Password != "" {
		// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
		policy := c.config.Policy
		methods = append(methods,
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, echos []bool) ([]string, error) {
				return policy.RespondToPrompt(info.Password, questions, echos)
			}),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth method for %s: password or key file required", info.Username)
	}
	return methods, nil
}

// loadKey 读取私钥；加密私钥的口令由策略提供
func (c *Client) loadKey(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		pass, perr := c.config.Policy.RespondPassphrase(path)
		if perr != nil {
			return nil, perr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return signer, nil
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.info = info
	sshConfig, err := c.clientConfig(info)
	if err != nil {
		return err
	}

	address := info.Address()
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	// 握手阶段同样受 Timeout 约束，避免设备不回应时无限阻塞
	if c.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.connection = ssh.NewClient(sshConn, chans, reqs)
	logger.Debugf("ssh connected to %s as %s (%s)", address, info.Username, string(sshConn.ServerVersion()))

	// 保活协程随 Close 结束，不依赖调用方 ctx
	keepCtx, cancel := context.WithCancel(context.Background())
	c.stopKeep = cancel
	go c.keepAlive(keepCtx)

	return nil
}

// OpenShell 打开交互式 shell 通道：申请 PTY 并启动 shell
func (c *Client) OpenShell(ctx context.Context) (*Shell, error) {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	session, err := c.newSession(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 设置终端模式（启用回显，兼容网络设备CLI），并使用终端类型回退
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range termCandidates(c.config.Term) {
		if ptyErr = session.RequestPty(term, 24, 80, modes); ptyErr == nil {
			break
		}
		logger.Debugf("request pty %s failed: %v", term, ptyErr)
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}
	return &Shell{session: session, stdin: stdin, stdout: stdout}, nil
}

// newSession 在 ChannelTimeout 内打开会话通道；超时后到达的通道直接关闭
func (c *Client) newSession(ctx context.Context, conn *ssh.Client) (*ssh.Session, error) {
	type opened struct {
		s   *ssh.Session
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		s, err := conn.NewSession()
		ch <- opened{s, err}
	}()

	var timeout <-chan time.Time
	if c.config.ChannelTimeout > 0 {
		t := time.NewTimer(c.config.ChannelTimeout)
		defer t.Stop()
		timeout = t.C
	}
	abandon := func() {
		go func() {
			if o := <-ch; o.s != nil {
				o.s.Close()
			}
		}()
	}

	select {
	case o := <-ch:
		return o.s, o.err
	case <-timeout:
		abandon()
		return nil, fmt.Errorf("open channel timeout after %s", c.config.ChannelTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func termCandidates(preferred string) []string {
	terms := []string{"vt100", "xterm", "ansi", "dumb"}
	if preferred == "" {
		return terms
	}
	out := []string{preferred}
	for _, t := range terms {
		if t != preferred {
			out = append(out, t)
		}
	}
	return out
}

// Close 关闭连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopKeep != nil {
		c.stopKeep()
		c.stopKeep = nil
	}
	if c.connection != nil {
		err := c.connection.Close()
		c.connection = nil
		return err
	}
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// 轻量级健康检查：发送 keepalive 请求而不创建会话，避免触发设备的会话数量限制
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃
func (c *Client) keepAlive(ctx context.Context) {
	if c.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				logger.Debugf("keepalive failed, closing connection to %s", c.info.Address())
				c.mutex.Lock()
				if c.connection != nil {
					_ = c.connection.Close()
					c.connection = nil
				}
				c.mutex.Unlock()
				return
			}
		}
	}
}

// Shell 交互式 shell 通道的读写端
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	once    sync.Once
}

func (s *Shell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *Shell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

// Close 关闭通道；重复调用安全
func (s *Shell) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stdin.Close()
		err = s.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}
