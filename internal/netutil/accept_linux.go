//go:build linux

package netutil

import "golang.org/x/sys/unix"

// Accept 接受一个待处理连接，返回的 fd 已是非阻塞 + close-on-exec。
func Accept(lfd int) (fd int, remote string, err error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return fd, SockaddrString(sa), nil
}
