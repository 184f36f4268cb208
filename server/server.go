package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/legamerdc/lenecho/internal/netutil"
	"github.com/legamerdc/lenecho/poller"
	"github.com/legamerdc/lenecho/protocol"
)

// Server 是单线程 reactor：持有监听 fd、poller 与连接表。
// 连接表只在 Serve 所在的 goroutine 中读写，无需加锁。
type Server struct {
	cfg   Config
	log   *zap.Logger
	h     Handler
	codec protocol.Codec
	lfd   int
	addr  string
	pl    poller.Poller

	conns  map[int]*Connection // fd -> 连接
	nextID uint64

	scratch  []byte
	interest []poller.Interest
	events   []poller.Event

	stats counters
	now   func() time.Time

	mu        sync.Mutex
	serving   bool
	stopped   bool
	plClosed  bool // poller 已关闭，不能再 Wake
	stopping  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New 打开监听并创建 poller；任何失败都是 SetupError。
func New(cfg Config) (*Server, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	lfd, err := netutil.Listen(cfg.ListenNetwork, cfg.ListenAddress, netutil.ListenOptions{
		Backlog:   cfg.Backlog,
		ReusePort: cfg.ReusePort,
		RecvBuf:   cfg.RecvBuf,
	})
	if err != nil {
		return nil, setupError("listen", err)
	}
	addr, err := netutil.LocalAddr(lfd)
	if err != nil {
		netutil.Close(lfd)
		return nil, setupError("getsockname", err)
	}
	p, err := poller.New(cfg.Backend)
	if err != nil {
		netutil.Close(lfd)
		return nil, setupError("poller", err)
	}
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger.With(zap.String("addr", addr)),
		h:        cfg.Handler,
		codec:    protocol.NewCodec(cfg.MaxPayload),
		lfd:      lfd,
		addr:     addr,
		pl:       p,
		conns:    make(map[int]*Connection),
		scratch:  make([]byte, cfg.ReadBufferSize),
		interest: make([]poller.Interest, 0, 1024),
		events:   make([]poller.Event, 0, 1024),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	return s, nil
}

// Addr 返回实际监听地址（":0" 时为内核分配的端口）。
func (s *Server) Addr() string { return s.addr }

// Serve 运行事件循环直到 Stop 或 ctx 取消（返回 ErrServerClosed），
// 或等待调用出现非中断错误（返回 SetupError）。单连接错误从不返回。
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.serving {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.serving = true
	s.mu.Unlock()
	defer close(s.done)
	defer s.shutdown()

	stop := context.AfterFunc(ctx, func() {
		s.stopping.Store(true)
		s.wake()
	})
	defer stop()

	s.log.Info("serving", zap.String("backend", s.cfg.Backend), zap.Int("max_payload", s.cfg.MaxPayload),
		zap.Duration("idle_timeout", s.cfg.IdleTimeout))
	for !s.stopping.Load() {
		if err := s.runOnce(); err != nil {
			s.log.Error("event loop failed", reason(err))
			return err
		}
	}
	return ErrServerClosed
}

// Stop 唤醒事件循环并等待其退出，关闭全部连接与监听。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	serving := s.serving
	s.mu.Unlock()

	s.stopping.Store(true)
	if !serving {
		s.shutdown()
		return nil
	}
	s.wake()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.plClosed {
		_ = s.pl.Wake()
	}
}

// runOnce 执行一次迭代：构建兴趣集合、等待、分发、驱逐空闲连接。
func (s *Server) runOnce() error {
	s.buildInterest()
	events, err := s.pl.Wait(s.interest, s.events, s.waitTimeout())
	s.events = events
	if err != nil {
		if errors.Is(err, poller.ErrInterrupted) {
			return nil
		}
		return setupError("wait", err)
	}
	s.dispatch(events)
	s.evictIdle()
	return nil
}

// buildInterest 监听 fd 总是关心可读；每个连接按意图注册，错误条件总是监听。
func (s *Server) buildInterest() {
	s.interest = append(s.interest[:0], poller.Interest{FD: s.lfd, Read: true})
	for fd, c := range s.conns {
		s.interest = append(s.interest, poller.Interest{FD: fd, Read: c.wantRead, Write: c.wantWrite})
	}
}

// dispatch 对本次报告的每个就绪 fd 恰好分发一次。
func (s *Server) dispatch(events []poller.Event) {
	for _, ev := range events {
		if ev.FD == s.lfd {
			s.acceptOne()
			break
		}
	}
	for _, ev := range events {
		if ev.FD == s.lfd {
			continue
		}
		c, ok := s.conns[ev.FD]
		if !ok {
			continue
		}
		if ev.Readable && c.wantRead {
			c.handleRead(s.scratch)
		}
		if ev.Writable && c.wantWrite && !c.wantClose {
			c.handleWrite()
		}
		if ev.Err && !c.wantClose {
			c.markClose(c.sockError())
		}
		if c.wantClose {
			s.closeConn(c)
		}
	}
}

// acceptOne 每次只接受一个连接；失败只记录，不影响事件循环。
func (s *Server) acceptOne() {
	fd, remote, err := netutil.Accept(s.lfd)
	if err != nil {
		switch {
		case netutil.IsWouldBlock(err):
		case netutil.IsTemporary(err):
			// 如 EMFILE、ECONNABORTED，下一轮重试
			s.stats.acceptErrors.Add(1)
			s.log.Warn("accept failed", reason(err))
		default:
			s.stats.acceptErrors.Add(1)
			s.log.Error("accept failed", reason(err))
		}
		return
	}
	s.tune(fd)
	s.adopt(fd, remote)
}

// tune 为接入连接设置 socket 选项，失败不影响连接。
func (s *Server) tune(fd int) {
	if s.cfg.NoDelay {
		if err := netutil.SetNoDelay(fd, true); err != nil {
			s.log.Debug("set nodelay", zap.Int("fd", fd), reason(err))
		}
	}
	if s.cfg.SendBuf > 0 {
		if err := netutil.SetSendBuf(fd, s.cfg.SendBuf); err != nil {
			s.log.Debug("set sndbuf", zap.Int("fd", fd), reason(err))
		}
	}
}

// adopt 为已处于非阻塞模式的 fd 建立连接记录并登记到连接表。
func (s *Server) adopt(fd int, remote string) *Connection {
	s.nextID++
	c := newConnection(fd, s.nextID, remote, s)
	s.conns[fd] = c
	s.stats.accepted.Add(1)
	s.stats.live.Add(1)
	s.log.Debug("conn open", zap.Uint64("conn", c.info.ID), zap.Int("fd", fd), zap.String("remote", remote))
	s.h.OnOpen(&c.info)
	return c
}

func (s *Server) closeConn(c *Connection) {
	fd := c.fd
	delete(s.conns, fd)
	c.close()
	s.stats.closed.Add(1)
	s.stats.live.Add(-1)
	s.log.Debug("conn close", zap.Uint64("conn", c.info.ID), zap.Int("fd", fd), reason(c.closeErr))
	s.h.OnClose(&c.info, c.closeErr)
}

// waitTimeout 为最早的空闲截止时间，未启用空闲驱逐时无限等待。
func (s *Server) waitTimeout() time.Duration {
	if s.cfg.IdleTimeout <= 0 || len(s.conns) == 0 {
		return -1
	}
	now := s.now()
	var earliest time.Time
	for _, c := range s.conns {
		if earliest.IsZero() || c.lastActive.Before(earliest) {
			earliest = c.lastActive
		}
	}
	d := earliest.Add(s.cfg.IdleTimeout).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Server) evictIdle() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	now := s.now()
	for _, c := range s.conns {
		if now.Sub(c.lastActive) >= s.cfg.IdleTimeout {
			s.stats.idleEvictions.Add(1)
			c.markClose(ErrIdleTimeout)
			s.closeConn(c)
		}
	}
}

func (s *Server) shutdown() {
	s.closeOnce.Do(func() {
		for _, c := range s.conns {
			c.markClose(ErrServerClosed)
			s.closeConn(c)
		}
		netutil.Close(s.lfd)
		s.mu.Lock()
		s.plClosed = true
		s.pl.Close()
		s.mu.Unlock()
		s.log.Info("stopped", zap.Uint64("accepted", s.stats.accepted.Load()))
	})
}

// reason 只记录错误文本，不带调用栈。
func reason(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("reason", err.Error())
}
