package rsocketdemo

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rsocket/rsocket-go/payload"
	"github.com/rsocket/rsocket-go/rx/flux"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startServer 启动 RSocket 服务端，测试结束时关闭并检查退出
func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping socket integration test in short mode")
	}
	if opts.Addr == "" {
		opts.Addr = freeAddr(t)
	}
	s := NewServer(&opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(testTimeout):
			t.Error("server did not stop")
		}
	})
	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("server not ready")
	}
	return s
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	opts := s.Options()
	c, err := Dial(context.Background(), opts.Addr, &opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServerRequestResponse(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	resp, err := c.RequestResponse(ctx, NewMessage(OriginClient, InteractionRequest))
	require.NoError(t, err)
	require.Equal(t, OriginServer, resp.Origin)
	require.Equal(t, InteractionResponse, resp.Interaction)
	require.Empty(t, c.ResumeToken())

	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, testTimeout, 5*time.Millisecond)
	peer := s.Registry().List()[0]
	require.Equal(t, TransportRSocket, peer.Transport)
	_, _, err = net.SplitHostPort(peer.Remote)
	require.NoError(t, err, "remote %q", peer.Remote)
}

// captureLogs 记录标准 logger 的输出，测试结束时移除 hook
func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	std := logrus.StandardLogger()
	hook := logtest.NewLocal(std)
	t.Cleanup(func() { std.ReplaceHooks(make(logrus.LevelHooks)) })
	return hook
}

func countLogs(hook *logtest.Hook, prefix string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, prefix) {
			n++
		}
	}
	return n
}

func TestServerFireAndForget(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)
	hook := captureLogs(t)

	require.NoError(t, c.FireAndForget(NewMessage(OriginClient, InteractionFireAndForget)))
	require.Eventually(t, func() bool {
		return countLogs(hook, "Received fire-and-forget request") == 1
	}, testTimeout, 5*time.Millisecond)

	// 空负载按零值消息处理
	md, err := RouteMetadata(RouteFireAndForget)
	require.NoError(t, err)
	c.socket.FireAndForget(payload.New(nil, md))
	require.Eventually(t, func() bool {
		return countLogs(hook, "Received fire-and-forget request") == 2
	}, testTimeout, 5*time.Millisecond)

	// 路由不匹配的请求被丢弃
	p, err := encodeRouted(RouteStream, NewMessage(OriginClient, InteractionFireAndForget))
	require.NoError(t, err)
	c.socket.FireAndForget(p)
	require.Eventually(t, func() bool {
		return countLogs(hook, "dropped fire-and-forget request") == 1
	}, testTimeout, 5*time.Millisecond)
	require.Equal(t, 2, countLogs(hook, "Received fire-and-forget request"))
}

func TestServerStream(t *testing.T) {
	s := startServer(t, Options{StreamInterval: 10 * time.Millisecond})
	c := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _ := c.Stream(ctx, NewMessage(OriginClient, InteractionStream))
	for i := int64(0); i < 3; i++ {
		m := recv(t, msgs)
		require.Equal(t, InteractionStream, m.Interaction)
		require.Equal(t, i, *m.Index)
	}
	cancel()
	requireClosed(t, msgs)
}

func TestServerChannel(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan time.Duration, 2)
	in <- 10 * time.Millisecond
	msgs, _ := c.Channel(ctx, in)
	for i := 0; i < 2; i++ {
		m := recv(t, msgs)
		require.Equal(t, InteractionChannel, m.Interaction)
	}

	in <- 20 * time.Millisecond
	deadline := time.After(testTimeout)
	for {
		var m Message
		select {
		case m = <-msgs:
		case <-deadline:
			t.Fatal("interval was not switched")
		}
		if m.Index != nil && *m.Index == 0 {
			break
		}
	}
	cancel()
	requireClosed(t, msgs)
}

func TestServerCancelStopsEmission(t *testing.T) {
	s := startServer(t, Options{StreamInterval: 10 * time.Millisecond})
	c := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drain := func(msgs <-chan Message) {
		recv(t, msgs)
		go func() {
			for range msgs {
			}
		}()
	}
	for i := 0; i < 5; i++ {
		msgs, _ := c.Stream(ctx, NewMessage(OriginClient, InteractionStream))
		drain(msgs)
	}
	in := make(chan time.Duration, 1)
	in <- 10 * time.Millisecond
	msgs, _ := c.Channel(ctx, in)
	drain(msgs)
	require.Equal(t, int64(6), s.Controller().Running())

	cancel()
	require.Eventually(t, func() bool { return s.Controller().Running() == 0 }, testTimeout, 5*time.Millisecond)
	// 连接仍然可用
	rctx, rcancel := context.WithTimeout(context.Background(), testTimeout)
	defer rcancel()
	_, err := c.RequestResponse(rctx, NewMessage(OriginClient, InteractionRequest))
	require.NoError(t, err)
}

func TestServerChannelInvalidSetting(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	in := make(chan time.Duration, 2)
	in <- 10 * time.Millisecond
	in <- -time.Second
	msgs, errc := c.Channel(ctx, in)
	for range msgs {
	}
	err := <-errc
	require.Error(t, err)
	require.ErrorContains(t, err, ErrInvalidInterval.Error())
	require.Eventually(t, func() bool { return s.Controller().Running() == 0 }, testTimeout, 5*time.Millisecond)
}

func TestServerWrongRoute(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	streamReq, err := encodeRouted(RouteChannel, NewMessage(OriginClient, InteractionStream))
	require.NoError(t, err)
	_, err = c.socket.RequestStream(streamReq).BlockLast(ctx)
	require.ErrorContains(t, err, ErrUnknownRoute.Error())

	channelReq, err := routed(RouteStream, EncodeInterval(time.Second))
	require.NoError(t, err)
	_, err = c.socket.RequestChannel(flux.Just(channelReq)).BlockLast(ctx)
	require.ErrorContains(t, err, ErrUnknownRoute.Error())

	unrouted := payload.New(EncodeInterval(time.Second), nil)
	_, err = c.socket.RequestChannel(flux.Just(unrouted)).BlockLast(ctx)
	require.ErrorContains(t, err, ErrUnknownRoute.Error())
}

func TestServerUnknownRoute(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)

	p, err := encodeRouted(RouteStream, NewMessage(OriginClient, InteractionRequest))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = c.socket.RequestResponse(p).Block(ctx)
	require.Error(t, err)
}

func TestServerResumption(t *testing.T) {
	s := startServer(t, Options{Profiles: []string{ProfileResumption}})
	require.True(t, s.Options().ResumeEnabled)
	c := dial(t, s)
	require.NotEmpty(t, c.ResumeToken())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	resp, err := c.RequestResponse(ctx, NewMessage(OriginClient, InteractionRequest))
	require.NoError(t, err)
	require.Equal(t, InteractionResponse, resp.Interaction)
}

func TestServerShutdownDetachesClients(t *testing.T) {
	s := startServer(t, Options{})
	c := dial(t, s)
	closed := make(chan struct{})
	var once sync.Once
	c.OnClose(func(error) { once.Do(func() { close(closed) }) })
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, testTimeout, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	require.Equal(t, 0, s.Registry().Len())
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("client was not detached")
	}
}
