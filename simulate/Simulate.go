package simulate

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

const (
	DefaultMoreEcho = "  ---- More ----"
	// eraseMore 翻页后设备用于擦除分页提示的光标序列
	eraseMore = "\x1b[16D                \x1b[16D"
)

// Config 模拟设备配置（simulate.yaml）
type Config struct {
	Listen       string `mapstructure:"listen"`
	Hostname     string `mapstructure:"hostname"`
	PromptSuffix string `mapstructure:"prompt_suffix"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	// AuthorizedKeys authorized_keys 格式的公钥行
	AuthorizedKeys []string `mapstructure:"authorized_keys"`
	Banner         string   `mapstructure:"banner"`
	// PageLines 每页行数，0 表示不分页
	PageLines int    `mapstructure:"page_lines"`
	MoreEcho  string `mapstructure:"more_echo"`
	// Encoding 输出编码：gbk 或 utf-8
	Encoding    string `mapstructure:"encoding"`
	HostKeyFile string `mapstructure:"host_key_file"`
	// OutputDir 命令输出文件目录：<dir>/<cmd>.txt，空格可替换为下划线
	OutputDir   string          `mapstructure:"output_dir"`
	IdleSeconds int             `mapstructure:"idle_seconds"`
	MaxConn     int             `mapstructure:"max_conn"`
	Commands    []CommandConfig `mapstructure:"commands"`
}

// CommandConfig 单条命令的模拟输出
type CommandConfig struct {
	CLI    string `mapstructure:"cli"`
	Output string `mapstructure:"output"`
	// Confirm 输出前先提示确认，需要再按一次回车
	Confirm bool `mapstructure:"confirm"`
	// Delay 输出前等待
	Delay time.Duration `mapstructure:"delay"`
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Listen == "" {
		out.Listen = "127.0.0.1:0"
	}
	if out.Hostname == "" {
		out.Hostname = "SIM"
	}
	if out.PromptSuffix == "" {
		out.PromptSuffix = "#"
	}
	if out.Username == "" {
		out.Username = "admin"
	}
	if out.MoreEcho == "" {
		out.MoreEcho = DefaultMoreEcho
	}
	if out.Encoding == "" {
		out.Encoding = "utf-8"
	}
	return &out
}

// LoadConfig 读取 simulate.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Server 模拟网络设备的 SSH 服务：提示符、分页、确认提问
type Server struct {
	cfg      *Config
	listener net.Listener
	hostKey  ssh.Signer
	authKeys map[string]bool

	mu     sync.Mutex
	active map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Start 监听并开始接受连接
func Start(cfg *Config) (*Server, error) {
	cfg = cfg.withDefaults()
	signer, err := loadOrCreateHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	authKeys, err := parseAuthorizedKeys(cfg.AuthorizedKeys)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		listener: ln,
		hostKey:  signer,
		authKeys: authKeys,
		active:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	logger.Infof("Simulate: device %s listening on %s", cfg.Hostname, ln.Addr())
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// HostKey 服务端主机公钥
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Reload 替换设备配置，监听地址不变；已建立的会话沿用旧配置
func (s *Server) Reload(cfg *Config) error {
	cfg = cfg.withDefaults()
	authKeys, err := parseAuthorizedKeys(cfg.AuthorizedKeys)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.authKeys = authKeys
	s.mu.Unlock()
	logger.Infof("Simulate: device %s reloaded (%d commands)", cfg.Hostname, len(cfg.Commands))
	return nil
}

func (s *Server) current() (*Config, map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.authKeys
}

// Stop 停止监听并断开所有会话
func (s *Server) Stop() {
	_ = s.listener.Close()
	s.mu.Lock()
	for c := range s.active {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	logger.Info("Simulate: device stopped")
}

func parseAuthorizedKeys(lines []string) (map[string]bool, error) {
	keys := make(map[string]bool)
	for _, line := range lines {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("invalid authorized key: %w", err)
		}
		keys[string(pub.Marshal())] = true
	}
	return keys, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnf("Simulate: accept error: %v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		s.mu.Lock()
		if s.cfg.MaxConn > 0 && len(s.active) >= s.cfg.MaxConn {
			s.mu.Unlock()
			_ = conn.Close()
			logger.Warnf("Simulate: reject connection from %s, max_conn exceeded", conn.RemoteAddr())
			continue
		}
		s.active[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			delete(s.active, c)
			s.mu.Unlock()
		}(conn)
	}
}

func (s *Server) serverConfig(cfg *Config, authKeys map[string]bool) *ssh.ServerConfig {
	checkPassword := func(user, password string) bool {
		return cfg.Password != "" && user == cfg.Username && password == cfg.Password
	}
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if checkPassword(meta.User(), string(password)) {
				return nil, nil
			}
			logger.Debugf("Simulate: password auth failed for %s", meta.User())
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && checkPassword(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	if len(authKeys) > 0 {
		srvCfg.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == cfg.Username && authKeys[string(key.Marshal())] {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", meta.User())
		}
	}
	srvCfg.AddHostKey(s.hostKey)
	return srvCfg
}

func (s *Server) handleConn(nc net.Conn) {
	cfg, authKeys := s.current()
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.serverConfig(cfg, authKeys))
	if err != nil {
		logger.Debugf("Simulate: handshake from %s failed: %v", nc.RemoteAddr(), err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	logger.Debugf("Simulate: %s logged in from %s", conn.User(), nc.RemoteAddr())

	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			logger.Warnf("Simulate: channel accept failed: %v", err)
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			handleSession(cfg, channel, requests)
		}()
	}
	sessions.Wait()
}

func handleSession(cfg *Config, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			newTerminal(cfg, channel).run()
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		default:
			// 只模拟交互式 shell
			_ = req.Reply(false, nil)
		}
	}
}

// terminal 单个 shell 会话的设备侧状态机
type terminal struct {
	cfg *Config
	ch  ssh.Channel
	in  *bufio.Reader
}

func newTerminal(cfg *Config, ch ssh.Channel) *terminal {
	return &terminal{cfg: cfg, ch: ch, in: bufio.NewReader(&idleReader{ch: ch, idle: time.Duration(cfg.IdleSeconds) * time.Second})}
}

func (t *terminal) prompt() string {
	return "\r\n" + t.cfg.Hostname + t.cfg.PromptSuffix
}

func (t *terminal) write(s string) error {
	data := []byte(s)
	if strings.EqualFold(t.cfg.Encoding, "gbk") {
		encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes(data)
		if err != nil {
			return err
		}
		data = encoded
	}
	_, err := t.ch.Write(data)
	return err
}

func (t *terminal) run() {
	if t.cfg.Banner != "" {
		if t.write(ensureCRLF(t.cfg.Banner)) != nil {
			return
		}
	}
	if t.write(t.prompt()) != nil {
		return
	}
	for {
		line, err := t.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("Simulate: session read error: %v", err)
			}
			return
		}
		cmd := strings.TrimSpace(line)
		if err := t.write(line + "\r\n"); err != nil {
			return
		}
		if cmd == "" {
			if t.write(t.prompt()) != nil {
				return
			}
			continue
		}
		if equalAny(cmd, "exit", "quit") {
			return
		}
		if err := t.execute(cmd); err != nil {
			return
		}
	}
}

// readLine 读取到 \r 或 \n 为止；紧随 \r 的 \n 在下一次读取时被当作空行
func (t *terminal) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := t.in.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		if b == '\r' || b == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

func (t *terminal) execute(cmd string) error {
	c, ok := t.lookup(cmd)
	if !ok {
		return t.write("% Unrecognized command found at '^' position." + t.prompt())
	}
	if c.Confirm {
		if err := t.write("Continue? [Y/N]:"); err != nil {
			return err
		}
		answer, err := t.readLine()
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(answer), "n") {
			return t.write("\r\nAborted." + t.prompt())
		}
		if err := t.write("\r\n"); err != nil {
			return err
		}
	}
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	return t.page(strings.Split(normalizeLines(c.Output), "\n"))
}

// page 按 PageLines 分页输出，每页末尾输出分页提示并等待一个按键
func (t *terminal) page(lines []string) error {
	size := t.cfg.PageLines
	if size <= 0 || len(lines) <= size {
		return t.write(strings.Join(lines, "\r\n") + t.prompt())
	}
	for start := 0; start < len(lines); start += size {
		end := start + size
		if end >= len(lines) {
			return t.write(strings.Join(lines[start:], "\r\n") + t.prompt())
		}
		if err := t.write(strings.Join(lines[start:end], "\r\n") + "\r\n" + t.cfg.MoreEcho); err != nil {
			return err
		}
		key, err := t.in.ReadByte()
		if err != nil {
			return err
		}
		if key == 'q' || key == 'Q' {
			return t.write("\r\n" + t.prompt())
		}
		if err := t.write(eraseMore); err != nil {
			return err
		}
	}
	return t.write(t.prompt())
}

func (t *terminal) lookup(cmd string) (CommandConfig, bool) {
	for _, c := range t.cfg.Commands {
		if strings.EqualFold(strings.TrimSpace(c.CLI), cmd) {
			return c, true
		}
	}
	if out := loadCommandOutput(t.cfg.OutputDir, cmd); out != "" {
		return CommandConfig{CLI: cmd, Output: out}, true
	}
	return CommandConfig{}, false
}

// idleReader 读超时视为会话空闲结束
type idleReader struct {
	ch   ssh.Channel
	idle time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.idle <= 0 {
		return r.ch.Read(p)
	}
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.ch.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(r.idle):
		_, _ = r.ch.Write([]byte("\r\nSession closed due to idle timeout.\r\n"))
		_ = r.ch.Close()
		<-done
		return 0, io.EOF
	}
}

func loadCommandOutput(dir, cmd string) string {
	if dir == "" {
		return ""
	}
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		bs, err := os.ReadFile(filepath.Join(dir, name+".txt"))
		if err == nil {
			return string(bs)
		}
	}
	return ""
}

// loadOrCreateHostKey path 为空时生成内存密钥；否则加载或生成并持久化
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err == nil {
				return signer, nil
			}
			logger.Warnf("Simulate: host key %s parse failed, regenerating: %v", path, err)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
		logger.Infof("Simulate: host key generated at %s", path)
	}
	return ssh.ParsePrivateKey(pemBytes)
}

func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

func ensureCRLF(s string) string {
	s = strings.ReplaceAll(normalizeLines(s), "\n", "\r\n")
	return s + "\r\n"
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}
