package server

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/lenecho/internal/buffer"
	"github.com/legamerdc/lenecho/internal/netutil"
)

// State 为连接状态机：Reading ⇄ Writing → Closing（终态）。
type State uint8

const (
	StateReading State = iota
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Connection 为单个客户端的状态。只由所属 Server 的事件循环访问，
// Server 是唯一的创建者与销毁者，关闭后不得再被引用。
type Connection struct {
	fd  int
	srv *Server

	info ConnInfo

	// 应用意图，事件循环据此构建兴趣集合
	wantRead  bool
	wantWrite bool
	wantClose bool // 单向锁存
	closeErr  error

	// 缓冲的输入与输出
	incoming buffer.Buffer
	outgoing buffer.Buffer

	lastActive time.Time
}

func newConnection(fd int, id uint64, remote string, s *Server) *Connection {
	c := &Connection{
		fd:         fd,
		srv:        s,
		info:       ConnInfo{ID: id, FD: fd, Remote: remote},
		wantRead:   true,
		lastActive: s.now(),
	}
	return c
}

func (c *Connection) State() State {
	switch {
	case c.wantClose:
		return StateClosing
	case c.wantWrite:
		return StateWriting
	default:
		return StateReading
	}
}

// markClose 锁存关闭意图，保留第一个原因。
func (c *Connection) markClose(err error) {
	if !c.wantClose {
		c.wantClose = true
		c.closeErr = err
	}
}

// updateIntent 有未发送数据时只关心可写，否则只关心可读。
func (c *Connection) updateIntent() {
	if c.outgoing.Len() > 0 {
		c.wantRead = false
		c.wantWrite = true
	} else {
		c.wantRead = true
		c.wantWrite = false
	}
}

// handleRead 执行一次非阻塞读，并处理缓冲中全部完整的帧。
func (c *Connection) handleRead(scratch []byte) {
	n, err := unix.Read(c.fd, scratch)
	c.srv.log.Debug("read", zap.Int("fd", c.fd), zap.Int("n", n), reason(err))
	if err != nil {
		if netutil.IsWouldBlock(err) || err == unix.EINTR {
			return
		}
		c.markClose(errors.Wrap(err, "read"))
		return
	}
	if n == 0 {
		c.markClose(ErrPeerClosed)
		return
	}
	c.srv.stats.bytesIn.Add(uint64(n))
	c.lastActive = c.srv.now()
	c.incoming.Append(scratch[:n])
	c.drain()
	c.updateIntent()
}

// drain 解析并处理 incoming 中所有完整帧，响应追加到 outgoing。
func (c *Connection) drain() {
	codec := c.srv.codec
	for {
		req, ok, err := codec.TryParseOne(&c.incoming)
		if err != nil {
			c.srv.stats.protocolErrors.Add(1)
			c.markClose(err)
			return
		}
		if !ok {
			return
		}
		c.srv.stats.messagesIn.Add(1)
		resp, err := c.srv.h.OnMessage(&c.info, req)
		if err != nil {
			c.markClose(errors.Wrap(err, "handler"))
			return
		}
		if err := codec.WriteFrame(&c.outgoing, resp); err != nil {
			// 超限响应属于编程错误，只影响本连接
			c.srv.log.Error("response rejected", zap.Uint64("conn", c.info.ID), reason(err))
			c.markClose(err)
			return
		}
		c.srv.stats.messagesOut.Add(1)
	}
}

// handleWrite 执行一次非阻塞写，部分写的剩余数据等待下一次可写。
func (c *Connection) handleWrite() {
	if c.outgoing.Len() == 0 {
		c.markClose(ErrNothingToWrite)
		return
	}
	n, err := unix.Write(c.fd, c.outgoing.Bytes())
	c.srv.log.Debug("write", zap.Int("fd", c.fd), zap.Int("n", n), reason(err))
	if err != nil {
		if netutil.IsWouldBlock(err) || err == unix.EINTR {
			return
		}
		c.markClose(errors.Wrap(err, "write"))
		return
	}
	if n <= 0 {
		return
	}
	_ = c.outgoing.Consume(n)
	c.srv.stats.bytesOut.Add(uint64(n))
	c.lastActive = c.srv.now()
	c.updateIntent()
}

// sockError 读取 SO_ERROR，得到 ERR/HUP 事件的具体原因。
func (c *Connection) sockError() error {
	v, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && v != 0 {
		return unix.Errno(v)
	}
	return ErrHangup
}

// close 关闭 fd 并归还缓冲，只由 Server.closeConn 调用。
func (c *Connection) close() {
	unix.Close(c.fd)
	c.incoming.Release()
	c.outgoing.Release()
	c.fd = -1
}
