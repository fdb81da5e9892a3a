package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ECHOSHELL"

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Shell     ShellConfig     `mapstructure:"shell"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	FrontDoor FrontDoorConfig `mapstructure:"front_door"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Simulate  SimulateConfig  `mapstructure:"simulate"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ShellConfig 交互式 shell 回显解析参数
type ShellConfig struct {
	// EndEcho 逗号分隔的提示符结尾；为空时有任意输出即视为结束
	EndEcho  string `mapstructure:"end_echo"`
	MoreEcho string `mapstructure:"more_echo"`
	MoreCmd  string `mapstructure:"more_cmd"`
	// SleepTime 轮询间隔，同时是登录后的等待时间
	SleepTime time.Duration `mapstructure:"sleep_time"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Port      int           `mapstructure:"port"`
	Encoding  string        `mapstructure:"encoding"`
	// Filters 回显清理正则，按顺序各替换首个匹配
	Filters    []string `mapstructure:"filters"`
	LineEnding string   `mapstructure:"line_ending"`
	Enter      string   `mapstructure:"enter"`
	// MaxPages 单条命令翻页上限，0 表示不限
	MaxPages int `mapstructure:"max_pages"`
}

// SSHConfig SSH配置
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ChannelTimeout    time.Duration `mapstructure:"channel_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	Term              string        `mapstructure:"term"`
	// HostKeyPolicy accept | known_hosts
	HostKeyPolicy  string `mapstructure:"host_key_policy"`
	KnownHostsFile string `mapstructure:"known_hosts_file"`
	KeyPassphrase  string `mapstructure:"key_passphrase"`
}

// FrontDoorConfig GET /ssh/run 使用的固定目标
type FrontDoorConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Commands []string `mapstructure:"commands"`
	// ExtraEnter 需要额外回车的命令下标（以 [用户名, 密码, 命令...] 列表计，命令从 2 开始）
	ExtraEnter []int `mapstructure:"extra_enter"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ArchiveConfig 会话全文归档
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend local | minio
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SimulateConfig 内置模拟设备
type SimulateConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Load 加载配置文件；configPath 为空时在 configs 目录查找，找不到则只用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 密码类字段支持 ${ENV} 引用
	config.FrontDoor.Password = expandEnv(config.FrontDoor.Password)
	config.SSH.KeyPassphrase = expandEnv(config.SSH.KeyPassphrase)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalMu.Lock()
	globalConfig = &config
	globalMu.Unlock()
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	// 回显解析默认值与常见华为/H3C 设备一致
	v.SetDefault("shell.end_echo", "#,?,>,:")
	v.SetDefault("shell.more_echo", "---- More ----")
	v.SetDefault("shell.more_cmd", " ")
	v.SetDefault("shell.sleep_time", 200*time.Millisecond)
	v.SetDefault("shell.timeout", 4*time.Second)
	v.SetDefault("shell.port", 22)
	v.SetDefault("shell.encoding", "gbk")
	v.SetDefault("shell.filters", []string{`\x08+ +\x08+`, `(\x1b\[\d+[A-Z] *)+`})
	v.SetDefault("shell.line_ending", "\n")
	v.SetDefault("shell.enter", "\r")
	v.SetDefault("shell.max_pages", 0)

	v.SetDefault("ssh.connect_timeout", 30*time.Second)
	v.SetDefault("ssh.channel_timeout", 3*time.Second)
	v.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	v.SetDefault("ssh.term", "vt100")
	v.SetDefault("ssh.host_key_policy", "accept")
	v.SetDefault("ssh.known_hosts_file", "~/.ssh/known_hosts")

	v.SetDefault("front_door.port", 22)

	v.SetDefault("database.sqlite.path", "./data/echoshell.db")
	v.SetDefault("database.sqlite.max_idle_conns", 5)
	v.SetDefault("database.sqlite.max_open_conns", 10)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.base_dir", "./data/transcripts")
	v.SetDefault("archive.prefix", "transcripts")

	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "echoshell")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("simulate.enabled", false)
	v.SetDefault("simulate.path", "simulate/simulate.yaml")
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Shell.SleepTime <= 0 {
		return fmt.Errorf("shell.sleep_time must be positive, got %s", c.Shell.SleepTime)
	}
	if c.Shell.Timeout <= 0 {
		return fmt.Errorf("shell.timeout must be positive, got %s", c.Shell.Timeout)
	}
	if c.Shell.MaxPages < 0 {
		return fmt.Errorf("shell.max_pages must not be negative")
	}
	if c.Shell.Port <= 0 || c.Shell.Port > 65535 {
		return fmt.Errorf("shell.port out of range: %d", c.Shell.Port)
	}
	switch strings.ToLower(c.Archive.Backend) {
	case "", "local", "minio":
	default:
		return fmt.Errorf("archive.backend must be local or minio, got %q", c.Archive.Backend)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func expandEnv(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		if env := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")); env != "" {
			return env
		}
	}
	return val
}
