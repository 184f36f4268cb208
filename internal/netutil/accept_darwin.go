//go:build darwin

package netutil

import "golang.org/x/sys/unix"

// Accept 接受一个待处理连接，darwin 没有 accept4，需要手动设置标志。
func Accept(lfd int) (fd int, remote string, err error) {
	fd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, "", err
	}
	unix.CloseOnExec(fd)
	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, "", err
	}
	return fd, SockaddrString(sa), nil
}
