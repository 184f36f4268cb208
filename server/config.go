package server

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/legamerdc/lenecho/poller"
	"github.com/legamerdc/lenecho/protocol"
)

const defaultReadBufferSize = 64 << 10

// Config 为 reactor 配置。零值字段在 New 中补齐默认值。
type Config struct {
	ListenNetwork  string        // tcp / tcp4 / tcp6
	ListenAddress  string        // 如 "127.0.0.1:1234"
	Backlog        int           // listen backlog，<=0 使用 SOMAXCONN
	Backend        string        // poll（默认）/ epoll
	MaxPayload     int           // 单帧最大负载
	ReadBufferSize int           // 每次非阻塞 read 的临时缓冲大小
	IdleTimeout    time.Duration // 连接空闲超时，0 表示不驱逐
	NoDelay        bool          // 为接入连接设置 TCP_NODELAY
	ReusePort      bool          // 监听 socket 设置 SO_REUSEPORT
	RecvBuf        int           // SO_RCVBUF，0 使用系统默认
	SendBuf        int           // 接入连接的 SO_SNDBUF，0 使用系统默认
	Handler        Handler       // nil 使用 EchoHandler
	Logger         *zap.Logger   // nil 使用 zap.NewNop()
}

// DefaultConfig 提供一组可工作的默认值。
func DefaultConfig() Config {
	return Config{
		ListenNetwork:  "tcp",
		ListenAddress:  ":1234",
		Backend:        poller.BackendPoll,
		MaxPayload:     protocol.DefaultMaxPayload,
		ReadBufferSize: defaultReadBufferSize,
		IdleTimeout:    0,
		NoDelay:        true,
	}
}

func (c *Config) normalize() error {
	if c.ListenNetwork == "" {
		c.ListenNetwork = "tcp"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":0"
	}
	if c.Backend == "" {
		c.Backend = poller.BackendPoll
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = protocol.DefaultMaxPayload
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.Handler == nil {
		c.Handler = EchoHandler{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	switch {
	case c.MaxPayload < 0:
		return errors.Wrapf(ErrInvalidConfig, "max payload %d", c.MaxPayload)
	case c.ReadBufferSize < 0:
		return errors.Wrapf(ErrInvalidConfig, "read buffer size %d", c.ReadBufferSize)
	case c.RecvBuf < 0 || c.SendBuf < 0:
		return errors.Wrapf(ErrInvalidConfig, "socket buffers rcv=%d snd=%d", c.RecvBuf, c.SendBuf)
	case c.IdleTimeout < 0:
		return errors.Wrapf(ErrInvalidConfig, "idle timeout %s", c.IdleTimeout)
	}
	return nil
}
