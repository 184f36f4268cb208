//go:build linux || darwin

package netutil

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAcceptLoopback(t *testing.T) {
	lfd, err := Listen("tcp", "127.0.0.1:0", ListenOptions{})
	require.NoError(t, err)
	defer Close(lfd)

	addr, err := LocalAddr(lfd)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", host)
	require.NotEqual(t, "0", port)

	// 非阻塞：没有连接时立即返回 would-block
	_, _, err = Accept(lfd)
	require.True(t, IsWouldBlock(err))
	require.True(t, IsTemporary(err))

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	var fd int
	var remote string
	require.Eventually(t, func() bool {
		fd, remote, err = Accept(lfd)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	defer Close(fd)
	require.Equal(t, nc.LocalAddr().String(), remote)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.NotZero(t, flags&unix.O_NONBLOCK)

	require.NoError(t, SetNoDelay(fd, true))
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	require.NotZero(t, v)
}

func TestListenBadAddress(t *testing.T) {
	_, err := Listen("tcp", "not-an-address", ListenOptions{})
	require.Error(t, err)
}

func TestListenOptions(t *testing.T) {
	lfd, err := Listen("tcp", "127.0.0.1:0", ListenOptions{Backlog: 16, ReusePort: true, RecvBuf: 32 << 10})
	require.NoError(t, err)
	defer Close(lfd)

	v, err := unix.GetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEPORT)
	require.NoError(t, err)
	require.NotZero(t, v)
	v, err = unix.GetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v, 32<<10)

	// 同一端口可以再次监听
	addr, err := LocalAddr(lfd)
	require.NoError(t, err)
	second, err := Listen("tcp", addr, ListenOptions{ReusePort: true})
	require.NoError(t, err)
	require.NoError(t, Close(second))
}

func TestIsTemporary(t *testing.T) {
	for _, err := range []error{unix.EAGAIN, unix.EINTR, unix.ECONNABORTED, unix.EMFILE, unix.ENFILE, unix.ENOBUFS} {
		require.True(t, IsTemporary(err), err.Error())
	}
	for _, err := range []error{unix.EBADF, unix.EINVAL, unix.ENOTSOCK} {
		require.False(t, IsTemporary(err), err.Error())
	}
}
