package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	PolicyAccept     = "accept"
	PolicyKnownHosts = "known_hosts"
)

var (
	ErrPromptRejected     = errors.New("prompt rejected by policy")
	ErrPassphraseRequired = errors.New("private key passphrase required")
)

// PromptPolicy 决定登录过程中如何应答主机确认、交互式提问与私钥口令
type PromptPolicy interface {
	// RespondYesNo 主机身份确认等是/否提问
	RespondYesNo(message string) bool
	// RespondToPrompt keyboard-interactive 提问，返回与 questions 等长的答案
	RespondToPrompt(password string, questions []string, echos []bool) ([]string, error)
	// RespondPassphrase 加密私钥的口令
	RespondPassphrase(keyFile string) ([]byte, error)
}

// HostKeyVerifier 由需要自行校验主机密钥的策略实现；
// 未实现时主机密钥交给 RespondYesNo 决定
type HostKeyVerifier interface {
	HostKeyCallback() (ssh.HostKeyCallback, error)
}

// AcceptAllPolicy 自动接受所有主机密钥，所有提问一律用密码应答
type AcceptAllPolicy struct {
	Passphrase string
}

func (AcceptAllPolicy) RespondYesNo(string) bool { return true }

func (AcceptAllPolicy) RespondToPrompt(password string, questions []string, _ []bool) ([]string, error) {
	answers := make([]string, len(questions))
	for i := range questions {
		answers[i] = password
	}
	return answers, nil
}

func (p AcceptAllPolicy) RespondPassphrase(keyFile string) ([]byte, error) {
	if p.Passphrase == "" {
		return nil, fmt.Errorf("%w: %s", ErrPassphraseRequired, keyFile)
	}
	return []byte(p.Passphrase), nil
}

// KnownHostsPolicy 严格校验 known_hosts，只回答包含 password 字样的提问
type KnownHostsPolicy struct {
	Path       string
	Passphrase string
}

func (KnownHostsPolicy) RespondYesNo(string) bool { return false }

func (KnownHostsPolicy) RespondToPrompt(password string, questions []string, _ []bool) ([]string, error) {
	answers := make([]string, len(questions))
	for i, q := range questions {
		if !strings.Contains(strings.ToLower(q), "password") {
			return nil, fmt.Errorf("%w: %q", ErrPromptRejected, q)
		}
		answers[i] = password
	}
	return answers, nil
}

func (p KnownHostsPolicy) RespondPassphrase(keyFile string) ([]byte, error) {
	return AcceptAllPolicy{Passphrase: p.Passphrase}.RespondPassphrase(keyFile)
}

func (p KnownHostsPolicy) HostKeyCallback() (ssh.HostKeyCallback, error) {
	path, err := expandHome(p.Path)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// NewPolicy 按配置名构造策略，空名称等同 accept
func NewPolicy(name, knownHostsFile, passphrase string) (PromptPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAccept:
		return AcceptAllPolicy{Passphrase: passphrase}, nil
	case PolicyKnownHosts:
		return KnownHostsPolicy{Path: knownHostsFile, Passphrase: passphrase}, nil
	default:
		return nil, fmt.Errorf("unknown host key policy %q", name)
	}
}

// hostKeyCallback 优先使用策略自带的校验，否则询问 RespondYesNo
func hostKeyCallback(policy PromptPolicy) (ssh.HostKeyCallback, error) {
	if v, ok := policy.(HostKeyVerifier); ok {
		return v.HostKeyCallback()
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		msg := fmt.Sprintf("The authenticity of host '%s' can't be established.\n%s key fingerprint is %s.\nAre you sure you want to continue connecting?",
			hostname, key.Type(), ssh.FingerprintSHA256(key))
		if policy.RespondYesNo(msg) {
			return nil
		}
		return fmt.Errorf("%w: host key for %s", ErrPromptRejected, hostname)
	}, nil
}

func expandHome(path string) (string, error) {
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
