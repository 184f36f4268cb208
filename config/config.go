// Package config 提供基于 YAML 与环境变量的配置加载。
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/legamerdc/lenecho/poller"
	"github.com/legamerdc/lenecho/protocol"
	"github.com/legamerdc/lenecho/server"
)

// Config 为根配置。
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig 对应 server.Config 中可序列化的部分。
type ServerConfig struct {
	Network        string        `mapstructure:"network"`
	Address        string        `mapstructure:"address"`
	Backlog        int           `mapstructure:"backlog"`
	Backend        string        `mapstructure:"backend"`
	MaxPayload     int           `mapstructure:"max_payload"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	NoDelay        bool          `mapstructure:"no_delay"`
	ReusePort      bool          `mapstructure:"reuse_port"`
	RecvBuf        int           `mapstructure:"recv_buf"`
	SendBuf        int           `mapstructure:"send_buf"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console 或 json
	Format string `mapstructure:"format"`
	// Outputs: stdout、stderr 或文件路径
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig 控制文件输出的滚动。
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default 返回默认配置。空闲连接默认 60s 后驱逐。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Network:        "tcp",
			Address:        ":1234",
			Backend:        poller.BackendPoll,
			MaxPayload:     protocol.DefaultMaxPayload,
			ReadBufferSize: 64 << 10,
			IdleTimeout:    60 * time.Second,
			NoDelay:        true,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/lenecho.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load 读取 path 指向的配置文件（为空时依次尝试 LENECHO_CONFIG 与 ./lenecho.yaml），
// 环境变量以 LENECHO_ 为前缀覆盖，例如 LENECHO_SERVER_ADDRESS=:9000。
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LENECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 先写入默认值，保证只用环境变量也能生效
	v.SetDefault("server.network", cfg.Server.Network)
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.backlog", cfg.Server.Backlog)
	v.SetDefault("server.backend", cfg.Server.Backend)
	v.SetDefault("server.max_payload", cfg.Server.MaxPayload)
	v.SetDefault("server.read_buffer_size", cfg.Server.ReadBufferSize)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.no_delay", cfg.Server.NoDelay)
	v.SetDefault("server.reuse_port", cfg.Server.ReusePort)
	v.SetDefault("server.recv_buf", cfg.Server.RecvBuf)
	v.SetDefault("server.send_buf", cfg.Server.SendBuf)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("LENECHO_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lenecho")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验并补齐缺省字段。
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	s := &c.Server
	switch s.Backend {
	case "", poller.BackendPoll, poller.BackendEpoll:
	default:
		return errors.Errorf("invalid server.backend: %q", s.Backend)
	}
	if strings.TrimSpace(s.Address) == "" {
		return errors.New("server.address is required")
	}
	if s.MaxPayload <= 0 {
		return errors.Errorf("invalid server.max_payload: %d", s.MaxPayload)
	}
	if s.ReadBufferSize <= 0 {
		return errors.Errorf("invalid server.read_buffer_size: %d", s.ReadBufferSize)
	}
	if s.RecvBuf < 0 || s.SendBuf < 0 {
		return errors.Errorf("invalid server.recv_buf/send_buf: %d/%d", s.RecvBuf, s.SendBuf)
	}
	if s.IdleTimeout < 0 {
		return errors.Errorf("invalid server.idle_timeout: %s", s.IdleTimeout)
	}
	return nil
}

// ToServer 转换为 reactor 配置；Handler 与 Logger 由调用方注入。
func (s ServerConfig) ToServer() server.Config {
	return server.Config{
		ListenNetwork:  s.Network,
		ListenAddress:  s.Address,
		Backlog:        s.Backlog,
		Backend:        s.Backend,
		MaxPayload:     s.MaxPayload,
		ReadBufferSize: s.ReadBufferSize,
		IdleTimeout:    s.IdleTimeout,
		NoDelay:        s.NoDelay,
		ReusePort:      s.ReusePort,
		RecvBuf:        s.RecvBuf,
		SendBuf:        s.SendBuf,
	}
}
