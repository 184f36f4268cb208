//go:build linux

package poller

import "golang.org/x/sys/unix"

// waker 使用 eventfd 跨 goroutine 唤醒阻塞中的等待。
type waker struct {
	efd int
}

func newWaker() (*waker, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &waker{efd: efd}, nil
}

func (w *waker) fd() int { return w.efd }

func (w *waker) signal() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.efd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drain 清空 eventfd 计数。
func (w *waker) drain() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.efd, buf[:])
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (w *waker) close() error { return unix.Close(w.efd) }
