//go:build linux || darwin

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller 基于 poll(2)，每次 Wait 重建兴趣集合。
type pollPoller struct {
	w      *waker
	fds    []unix.PollFd
	closed bool
}

func newPoll() (Poller, error) {
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	return &pollPoller{w: w, fds: make([]unix.PollFd, 0, 1024)}, nil
}

func (p *pollPoller) Wait(interest []Interest, events []Event, timeout time.Duration) ([]Event, error) {
	events = events[:0]
	if p.closed {
		return events, ErrClosed
	}
	// 第 0 项固定为唤醒 fd
	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.w.fd()), Events: unix.POLLIN})
	for _, in := range interest {
		pfd := unix.PollFd{Fd: int32(in.FD), Events: unix.POLLERR}
		if in.Read {
			pfd.Events |= unix.POLLIN
		}
		if in.Write {
			pfd.Events |= unix.POLLOUT
		}
		p.fds = append(p.fds, pfd)
	}
	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return events, ErrInterrupted
		}
		return events, err
	}
	if n == 0 {
		return events, nil
	}
	if p.fds[0].Revents != 0 {
		if err := p.w.drain(); err != nil {
			return events, err
		}
	}
	for _, pfd := range p.fds[1:] {
		re := pfd.Revents
		if re == 0 {
			continue
		}
		events = append(events, Event{
			FD:       int(pfd.Fd),
			Readable: re&unix.POLLIN != 0,
			Writable: re&unix.POLLOUT != 0,
			Err:      re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	return events, nil
}

func (p *pollPoller) Wake() error { return p.w.signal() }

func (p *pollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.w.close()
}
