package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// target 一台待执行的设备
type target struct {
	Alias    string
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
}

// resolveTargets 按 ssh_config 解析别名；r 为 nil 时原样使用 host[:port]
func resolveTargets(aliases []string, r io.Reader, defaults target) ([]target, error) {
	var cfg *ssh_config.Config
	if r != nil {
		c, err := ssh_config.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh config: %w", err)
		}
		cfg = c
	}

	out := make([]target, 0, len(aliases))
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		t := defaults
		t.Alias = alias
		t.Host = alias
		if h, p, err := splitHostPort(alias); err == nil {
			t.Host, t.Port = h, p
		}
		if cfg != nil {
			applySSHConfig(cfg, &t)
		}
		if t.Port <= 0 {
			t.Port = 22
		}
		if t.User == "" {
			return nil, fmt.Errorf("%s: no user (set -user or User in ssh config)", alias)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no hosts given")
	}
	return out, nil
}

func applySSHConfig(cfg *ssh_config.Config, t *target) {
	if hostName, _ := cfg.Get(t.Alias, "HostName"); hostName != "" {
		t.Host = hostName
	}
	if user, _ := cfg.Get(t.Alias, "User"); user != "" && t.User == "" {
		t.User = user
	}
	if portStr, _ := cfg.Get(t.Alias, "Port"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			t.Port = p
		}
	}
	if identity, _ := cfg.Get(t.Alias, "IdentityFile"); identity != "" && t.KeyFile == "" {
		t.KeyFile = expandHome(identity)
	}
}

// splitHostPort 仅在显式带端口时成功
func splitHostPort(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || strings.Count(s, ":") > 1 {
		return "", 0, fmt.Errorf("no port")
	}
	p, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, err
	}
	return s[:i], p, nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// openSSHConfig 打开 ssh_config；默认路径不存在时返回 nil
func openSSHConfig(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(expandHome(path))
	if os.IsNotExist(err) && path == defaultSSHConfig {
		return nil, nil
	}
	return f, err
}
