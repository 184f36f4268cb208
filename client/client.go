package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/legamerdc/lenecho/protocol"
)

var (
	ErrClosed             = errors.New("client: closed")
	ErrUnexpectedResponse = errors.New("client: response without pending request")
)

// Call 为一次在途请求。响应按发送顺序与请求一一对应。
type Call struct {
	Request  []byte
	Response []byte
	Err      error
	Done     chan *Call
}

type Options struct {
	MaxPayload  int
	Retries     int // 拨号失败后的重试次数
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	DialTimeout time.Duration
	Logger      *zap.Logger
}

type Option func(*Options)

func WithMaxPayload(n int) Option { return func(o *Options) { o.MaxPayload = n } }

func WithRetries(n int, lo, hi time.Duration) Option {
	return func(o *Options) {
		o.Retries = n
		o.MinBackoff = lo
		o.MaxBackoff = hi
	}
}

func WithDialTimeout(d time.Duration) Option { return func(o *Options) { o.DialTimeout = d } }

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

func defaultOptions() Options {
	return Options{
		MaxPayload:  protocol.DefaultMaxPayload,
		MinBackoff:  50 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		DialTimeout: 5 * time.Second,
		Logger:      zap.NewNop(),
	}
}

type Client struct {
	conn  net.Conn
	codec protocol.Codec
	log   *zap.Logger

	wmu     sync.Mutex // 串行化写入，保证写入顺序与入队顺序一致
	mu      sync.Mutex // 保护 pending/err；读循环只持有 mu，写阻塞时仍能收取响应
	pending *queue.Queue
	err     error

	readDone chan struct{}
}

// Dial 建立连接，失败时按指数退避重试。
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := &backoff.Backoff{Min: o.MinBackoff, Max: o.MaxBackoff, Factor: 2, Jitter: true}
	d := net.Dialer{Timeout: o.DialTimeout}
	for {
		nc, err := d.DialContext(ctx, "tcp", address)
		if err == nil {
			return newClient(nc, o), nil
		}
		if int(b.Attempt()) >= o.Retries || ctx.Err() != nil {
			return nil, errors.Wrapf(err, "client: dial %s", address)
		}
		wait := b.Duration()
		o.Logger.Debug("dial failed, retrying", zap.String("addr", address), zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "client: dial %s", address)
		}
	}
}

func newClient(nc net.Conn, o Options) *Client {
	c := &Client{
		conn:     nc,
		codec:    protocol.NewCodec(o.MaxPayload),
		log:      o.Logger.With(zap.String("remote", nc.RemoteAddr().String())),
		pending:  queue.New(),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	// 接收缓冲，跨多次 Read 累积，避免半包丢失
	br := bufio.NewReaderSize(c.conn, 64<<10)
	for {
		resp, err := c.codec.ReadFrame(br, nil)
		c.mu.Lock()
		if err != nil {
			c.failLocked(err)
			c.mu.Unlock()
			return
		}
		if c.pending.Length() == 0 {
			c.failLocked(ErrUnexpectedResponse)
			c.mu.Unlock()
			return
		}
		call := c.pending.Remove().(*Call)
		c.mu.Unlock()
		call.Response = resp
		call.Done <- call
	}
}

// failLocked 记录第一个错误，关闭连接并让全部在途请求失败。
func (c *Client) failLocked(err error) {
	if c.err == nil {
		c.err = err
		c.log.Debug("connection failed", zap.String("reason", err.Error()))
	}
	_ = c.conn.Close()
	for c.pending.Length() > 0 {
		call := c.pending.Remove().(*Call)
		call.Err = c.err
		call.Done <- call
	}
}

// Go 异步发送一个请求；可以连续调用形成流水线。
func (c *Client) Go(payload []byte) (*Call, error) {
	frame, err := c.codec.Serialize(payload)
	if err != nil {
		return nil, err
	}
	call := &Call{Request: payload, Done: make(chan *Call, 1)}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.pending.Add(call)
	c.mu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.failLocked(errors.Wrap(err, "client: write"))
		return nil, c.err
	}
	return call, nil
}

// Query 发送请求并等待对应响应。
func (c *Client) Query(ctx context.Context, payload []byte) ([]byte, error) {
	call, err := c.Go(payload)
	if err != nil {
		return nil, err
	}
	select {
	case <-call.Done:
		return call.Response, call.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteRaw 直接写入原始字节，不登记在途请求。
func (c *Client) WriteRaw(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.Err(); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

// Pending 返回尚未收到响应的请求数。
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Length()
}

// Err 返回导致连接失效的第一个错误。
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done 在读循环退出（连接失效）后关闭。
func (c *Client) Done() <-chan struct{} { return c.readDone }

func (c *Client) Close() error {
	c.mu.Lock()
	c.failLocked(ErrClosed)
	c.mu.Unlock()
	<-c.readDone
	return nil
}
