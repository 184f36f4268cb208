package poller

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// FD 表示文件描述符。
type FD = int

const (
	BackendPoll  = "poll"
	BackendEpoll = "epoll"
)

var (
	// ErrInterrupted 表示等待被信号打断，调用方直接重试即可，不是错误。
	ErrInterrupted = errors.New("poller: interrupted")
	ErrClosed      = errors.New("poller: closed")
	ErrBackend     = errors.New("poller: unsupported backend")
)

// Interest 描述一个 fd 当前关心的就绪事件。错误条件总是被监听。
type Interest struct {
	FD    FD
	Read  bool
	Write bool
}

// Event 为一次等待返回的就绪事件。
type Event struct {
	FD       FD
	Readable bool
	Writable bool
	Err      bool // ERR/HUP/NVAL
}

// Poller 是水平触发的就绪多路复用。
// Wait 每次接收完整的兴趣集合；除 Wake 外所有方法只能在同一个 goroutine 中调用。
type Poller interface {
	// Wait 阻塞直到至少一个 fd 就绪、超时或被 Wake。
	// timeout < 0 表示无限等待；结果追加到 events[:0] 并返回。
	Wait(interest []Interest, events []Event, timeout time.Duration) ([]Event, error)
	// Wake 可在任意 goroutine 调用，打断阻塞中的 Wait。
	Wake() error
	Close() error
}

// New 按名称创建 poller，空名称使用 poll。
func New(backend string) (Poller, error) {
	switch backend {
	case "", BackendPoll:
		return newPoll()
	case BackendEpoll:
		return newEpoll()
	default:
		return nil, errors.Wrapf(ErrBackend, "%q", backend)
	}
}

// timeoutMillis 将 timeout 向上取整到毫秒，避免亚毫秒超时退化为忙轮询。
// 系统调用的超时参数是 32 位 int，超出部分截断到 MaxInt32。
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	if d >= time.Duration(math.MaxInt32)*time.Millisecond {
		return math.MaxInt32
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
