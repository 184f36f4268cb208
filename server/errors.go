package server

import "github.com/pkg/errors"

var (
	// ErrServerClosed 由 Serve 在 Stop 或 ctx 取消后返回。
	ErrServerClosed  = errors.New("server: closed")
	ErrInvalidConfig = errors.New("server: invalid config")

	// 以下错误只作为连接关闭原因，从不逃逸出事件循环。
	ErrPeerClosed     = errors.New("server: peer closed")
	ErrIdleTimeout    = errors.New("server: idle timeout")
	ErrHangup         = errors.New("server: hangup")
	ErrNothingToWrite = errors.New("server: write with empty outgoing buffer")
)

// SetupError 标识 listen/poller/wait 等致命错误，调用方应终止进程。
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string { return "server: " + e.Op + ": " + e.Err.Error() }

func (e *SetupError) Unwrap() error { return e.Err }

// Cause 兼容 github.com/pkg/errors 的 Cause 链。
func (e *SetupError) Cause() error { return e.Err }

func setupError(op string, err error) error {
	return &SetupError{Op: op, Err: err}
}
