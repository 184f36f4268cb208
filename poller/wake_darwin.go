//go:build darwin

package poller

import "golang.org/x/sys/unix"

// waker 使用管道作为唤醒：写端 signal，读端注册到等待集合。
type waker struct {
	rfd int
	wfd int
}

func newWaker() (*waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	_ = unix.SetNonblock(p[0], true)
	_ = unix.SetNonblock(p[1], true)
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return &waker{rfd: p[0], wfd: p[1]}, nil
}

func (w *waker) fd() int { return w.rfd }

func (w *waker) signal() error {
	_, err := unix.Write(w.wfd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *waker) drain() error {
	buf := make([]byte, 16)
	for {
		n, err := unix.Read(w.rfd, buf)
		if err == unix.EAGAIN || (err == nil && n == 0) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (w *waker) close() error {
	unix.Close(w.wfd)
	return unix.Close(w.rfd)
}
