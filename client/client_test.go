//go:build linux || darwin

package client

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/legamerdc/lenecho/protocol"
	"github.com/legamerdc/lenecho/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.New(server.Config{ListenAddress: "127.0.0.1:0"})
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, s.Stop(context.Background()))
		<-errCh
	})
	return s
}

func dial(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestQuery(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Query(ctx, []byte("hello1"))
	require.NoError(t, err)
	require.Equal(t, "hello1", string(resp))

	resp, err = c.Query(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, []byte{}, resp)
}

func TestPipelinedCallsResolveInOrder(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.Addr())

	const n = 500
	calls := make([]*Call, n)
	for i := range calls {
		call, err := c.Go([]byte(fmt.Sprintf("req-%d", i)))
		require.NoError(t, err)
		calls[i] = call
	}
	for i, call := range calls {
		select {
		case <-call.Done:
		case <-time.After(5 * time.Second):
			t.Fatalf("call %d timed out", i)
		}
		require.NoError(t, call.Err)
		require.Equal(t, call.Request, call.Response)
	}
	require.Zero(t, c.Pending())
}

func TestLargePipelineDoesNotDeadlock(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.Addr())

	payload := bytes.Repeat([]byte("z"), protocol.DefaultMaxPayload)
	calls := make([]*Call, 0, 2000)
	for i := 0; i < cap(calls); i++ {
		call, err := c.Go(payload)
		require.NoError(t, err)
		calls = append(calls, call)
	}
	for _, call := range calls {
		<-call.Done
		require.NoError(t, call.Err)
		require.Len(t, call.Response, protocol.DefaultMaxPayload)
	}
}

func TestOversizeRequestRejectedLocally(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.Addr())

	_, err := c.Go(make([]byte, protocol.DefaultMaxPayload+1))
	require.True(t, errors.Is(err, protocol.ErrMessageTooLarge))
	require.NoError(t, c.Err())
}

func TestServerCloseFailsPendingCalls(t *testing.T) {
	s := startServer(t)
	c := dial(t, s.Addr())

	// 服务端收到超限长度后直接断开，不回复
	var hdr [protocol.HeaderSize]byte
	require.NoError(t, protocol.PutHeader(hdr[:], protocol.DefaultMaxPayload+1))
	call, err := c.Go([]byte("lost"))
	require.NoError(t, err)
	require.NoError(t, c.WriteRaw(hdr[:]))

	select {
	case <-call.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("pending call not failed")
	}
	// "lost" 先于超限头到达，可能已经得到回显
	if call.Err == nil {
		require.Equal(t, "lost", string(call.Response))
	}
	<-c.Done()
	require.Error(t, c.Err())

	_, err = c.Go([]byte("after"))
	require.Error(t, err)
}

func TestCloseFailsPending(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
	}()

	c := dial(t, ln.Addr().String())
	peer := <-accepted
	defer peer.Close()

	call, err := c.Go([]byte("never answered"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	<-call.Done
	require.True(t, errors.Is(call.Err, ErrClosed))
	require.True(t, errors.Is(c.Err(), ErrClosed))
}

func TestQueryContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			defer nc.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	c := dial(t, ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Query(ctx, []byte("slow"))
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDialRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	start := time.Now()
	_, err = Dial(context.Background(), addr, WithRetries(3, 5*time.Millisecond, 20*time.Millisecond))
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestDialRetryEventuallySucceeds(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	ready := make(chan *server.Server, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		srv, err := server.New(server.Config{ListenAddress: addr})
		if err != nil {
			ready <- nil
			return
		}
		go srv.Serve(context.Background())
		ready <- srv
	}()

	c, err := Dial(context.Background(), addr, WithRetries(20, 5*time.Millisecond, 20*time.Millisecond))
	srv := <-ready
	if srv == nil {
		if c != nil {
			c.Close()
		}
		t.Skip("port was taken before the server could bind")
	}
	defer srv.Stop(context.Background())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Query(context.Background(), []byte("late"))
	require.NoError(t, err)
	require.Equal(t, "late", string(resp))
}
