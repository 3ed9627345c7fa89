package rsocketdemo

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rsocket/rsocket-go"
	"github.com/rsocket/rsocket-go/payload"
	"github.com/rsocket/rsocket-go/rx"
	"github.com/rsocket/rsocket-go/rx/flux"
)

// Client 封装 RSocket 请求端
type Client struct {
	socket rsocket.Client
	token  string
}

// Dial 连接到 Server（opts 为 nil 时使用默认配置）
// 开启会话恢复时使用随机 resume token，并以 ResumeTimeout 作为建连超时
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	o := mergeOptions(opts)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse address %s failed", addr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse port %s failed", portStr)
	}

	c := &Client{}
	builder := rsocket.Connect().
		DataMimeType(MimeTypeJSON).
		MetadataMimeType(MimeTypeRouting)
	if o.ResumeEnabled {
		c.token = uuid.NewString()
		token := []byte(c.token)
		builder = builder.
			Resume(rsocket.WithClientResumeToken(func() []byte { return token })).
			ConnectTimeout(o.ResumeTimeout)
	}
	c.socket, err = builder.
		Transport(rsocket.TCPClient().SetHostAndPort(host, port).Build()).
		Start(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s failed", addr)
	}
	return c, nil
}

// ResumeToken 未开启会话恢复时为空
func (c *Client) ResumeToken() string { return c.token }

// OnClose 注册连接关闭回调
func (c *Client) OnClose(fn func(error)) { c.socket.OnClose(fn) }

// Close 关闭连接
func (c *Client) Close() error {
	return errors.Wrap(c.socket.Close(), "close client failed")
}

func routed(route string, data []byte) (payload.Payload, error) {
	md, err := RouteMetadata(route)
	if err != nil {
		return nil, err
	}
	return payload.New(data, md), nil
}

func encodeRouted(route string, m Message) (payload.Payload, error) {
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return routed(route, data)
}

// RequestResponse 发送一条消息并等待一条回复
func (c *Client) RequestResponse(ctx context.Context, req Message) (Message, error) {
	p, err := encodeRouted(RouteRequestResponse, req)
	if err != nil {
		return Message{}, err
	}
	res, err := c.socket.RequestResponse(p).Block(ctx)
	if err != nil {
		return Message{}, errors.Wrap(err, "request-response failed")
	}
	return DecodeMessage(res.Data())
}

// FireAndForget 发送一条消息，不等待回复
func (c *Client) FireAndForget(req Message) error {
	p, err := encodeRouted(RouteFireAndForget, req)
	if err != nil {
		return err
	}
	c.socket.FireAndForget(p)
	return nil
}

// Stream 订阅 stream 路由，ctx 取消时结束
// 两个通道在流结束后关闭，错误通道最多产生一个错误
func (c *Client) Stream(ctx context.Context, req Message) (<-chan Message, <-chan error) {
	out := make(chan Message)
	errc := make(chan error, 1)
	p, err := encodeRouted(RouteStream, req)
	if err != nil {
		errc <- err
		close(errc)
		close(out)
		return out, errc
	}
	subscribeMessages(ctx, c.socket.RequestStream(p), out, errc)
	return out, errc
}

// Channel 打开 channel 路由，intervals 中的每个元素为一个新的间隔设置
// 首个设置到达前阻塞；intervals 关闭表示输入结束
func (c *Client) Channel(ctx context.Context, intervals <-chan time.Duration) (<-chan Message, <-chan error) {
	out := make(chan Message)
	errc := make(chan error, 1)
	fail := func(err error) (<-chan Message, <-chan error) {
		errc <- err
		close(errc)
		close(out)
		return out, errc
	}
	var first time.Duration
	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case d, ok := <-intervals:
		if !ok {
			return fail(errors.Wrap(ErrInvalidInterval, "no interval setting"))
		}
		first = d
	}
	initial, err := routed(RouteChannel, EncodeInterval(first))
	if err != nil {
		return fail(err)
	}
	// 首个元素即 REQUEST_CHANNEL 帧，携带路由元数据
	requests := flux.Create(func(fctx context.Context, sink flux.Sink) {
		sink.Next(initial)
		go func() {
			for {
				select {
				case <-ctx.Done():
					sink.Complete()
					return
				case <-fctx.Done():
					return
				case d, ok := <-intervals:
					if !ok {
						sink.Complete()
						return
					}
					sink.Next(payload.New(EncodeInterval(d), nil))
				}
			}
		}()
	})
	subscribeMessages(ctx, c.socket.RequestChannel(requests), out, errc)
	return out, errc
}

// subscribeMessages 把响应 Flux 解码后写入 out
// ctx 结束时取消订阅，服务端随之停止发送
func subscribeMessages(ctx context.Context, f flux.Flux, out chan Message, errc chan error) {
	var (
		mu     sync.Mutex
		closed bool
		done   = make(chan struct{})
		// 对端已结束，无需再取消
		ended   = make(chan struct{})
		endOnce sync.Once
	)
	end := func() { endOnce.Do(func() { close(ended) }) }
	finish := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		if err != nil {
			errc <- err
		}
		close(errc)
		close(out)
		close(done)
	}
	go func() {
		select {
		case <-ctx.Done():
			finish(nil)
		case <-done:
		}
	}()
	f.Subscribe(ctx,
		rx.OnSubscribe(func(_ context.Context, sub rx.Subscription) {
			cancelOnDone(ctx, ended, sub)
			sub.Request(rx.RequestMax)
		}),
		rx.OnNext(func(p payload.Payload) error {
			m, err := DecodeMessage(p.Data())
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return nil
			}
			select {
			case out <- m:
			case <-ctx.Done():
			}
			return nil
		}),
		rx.OnComplete(func() {
			end()
			finish(nil)
		}),
		rx.OnError(func(e error) {
			end()
			finish(e)
		}),
	)
}
