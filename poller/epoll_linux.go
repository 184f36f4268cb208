//go:build linux

package poller

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

type epollEntry struct {
	mask uint32
	gen  uint64
}

// epollPoller 水平触发；每次 Wait 将兴趣集合与已注册集合做差分，
// 只对变化的 fd 调用 EPOLL_CTL_ADD/MOD/DEL。
type epollPoller struct {
	efd    int
	w      *waker
	reg    map[int]*epollEntry
	gen    uint64
	raw    []unix.EpollEvent
	closed bool
}

func newEpoll() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(w.fd())}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, w.fd(), ev); err != nil {
		w.close()
		unix.Close(efd)
		return nil, err
	}
	return &epollPoller{
		efd: efd,
		w:   w,
		reg: make(map[int]*epollEntry),
		raw: make([]unix.EpollEvent, 1024),
	}, nil
}

func epollMask(in Interest) uint32 {
	var flag uint32
	if in.Read {
		flag |= unix.EPOLLIN
	}
	if in.Write {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) sync(interest []Interest) error {
	p.gen++
	for _, in := range interest {
		mask := epollMask(in)
		ev := &unix.EpollEvent{Events: mask, Fd: int32(in.FD)}
		e, ok := p.reg[in.FD]
		switch {
		case !ok:
			err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, in.FD, ev)
			if err == unix.EEXIST {
				err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, in.FD, ev)
			}
			if err != nil {
				return err
			}
			e = &epollEntry{mask: mask}
			p.reg[in.FD] = e
		case e.mask != mask:
			err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, in.FD, ev)
			if err == unix.ENOENT {
				// fd 关闭后被内核自动移除，号码又被复用
				err = unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, in.FD, ev)
			}
			if err != nil {
				return err
			}
			e.mask = mask
		}
		e.gen = p.gen
	}
	for fd, e := range p.reg {
		if e.gen != p.gen {
			// fd 可能已关闭，DEL 失败可忽略
			_ = unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(p.reg, fd)
		}
	}
	return nil
}

func (p *epollPoller) Wait(interest []Interest, events []Event, timeout time.Duration) ([]Event, error) {
	defer runtime.KeepAlive(p)
	events = events[:0]
	if p.closed {
		return events, ErrClosed
	}
	if err := p.sync(interest); err != nil {
		return events, err
	}
	if need := len(interest) + 1; need > len(p.raw) {
		p.raw = make([]unix.EpollEvent, need)
	}
	n, err := unix.EpollWait(p.efd, p.raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return events, ErrInterrupted
		}
		return events, err
	}
	for i := 0; i < n; i++ {
		ev := p.raw[i]
		fd := int(ev.Fd)
		if fd == p.w.fd() {
			if err := p.w.drain(); err != nil {
				return events, err
			}
			continue
		}
		events = append(events, Event{
			FD:       fd,
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Err:      ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return events, nil
}

func (p *epollPoller) Wake() error { return p.w.signal() }

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.w.close()
	return unix.Close(p.efd)
}
