//go:build linux || darwin

package netutil

import (
	"net"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ListenOptions 为监听 socket 的可选参数，零值表示使用系统默认。
type ListenOptions struct {
	Backlog   int
	ReusePort bool
	// RecvBuf 在 listen 前设置，接入连接继承该值
	RecvBuf int
}

// Listen 创建非阻塞监听 socket：SO_REUSEADDR + bind + listen。
func Listen(network, address string, opt ListenOptions) (int, error) {
	// 仅支持 tcp 与 tcp4/tcp6
	fam := unix.AF_INET
	if strings.HasSuffix(network, "6") {
		fam = unix.AF_INET6
	}
	backlog := opt.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}
	unix.CloseOnExec(fd)
	if err := SetReuseAddr(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if opt.ReusePort {
		if err := SetReusePort(fd, true); err != nil {
			unix.Close(fd)
			return -1, errors.Wrap(err, "setsockopt SO_REUSEPORT")
		}
	}
	if opt.RecvBuf > 0 {
		if err := SetRecvBuf(fd, opt.RecvBuf); err != nil {
			unix.Close(fd)
			return -1, errors.Wrap(err, "setsockopt SO_RCVBUF")
		}
	}
	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "set nonblock")
	}
	// 绑定
	var sa unix.Sockaddr
	if fam == unix.AF_INET6 {
		addr, err := net.ResolveTCPAddr("tcp6", address)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
		var sa6 unix.SockaddrInet6
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		sa6.Port = addr.Port
		sa = &sa6
	} else {
		addr, err := net.ResolveTCPAddr("tcp4", address)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
		var sa4 unix.SockaddrInet4
		if addr.IP != nil {
			copy(sa4.Addr[:], addr.IP.To4())
		}
		sa4.Port = addr.Port
		sa = &sa4
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "bind %s", address)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listen")
	}
	return fd, nil
}
