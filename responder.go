package rsocketdemo

import (
	"bytes"
	"context"
	"sync"

	"github.com/rsocket/rsocket-go"
	"github.com/rsocket/rsocket-go/payload"
	"github.com/rsocket/rsocket-go/rx"
	"github.com/rsocket/rsocket-go/rx/flux"
	"github.com/rsocket/rsocket-go/rx/mono"
)

// Responder 把 Controller 绑定为 RSocket 响应端
func (c *Controller) Responder(peerID string) rsocket.RSocket {
	log := peerLogger(peerID, TransportRSocket)
	return rsocket.NewAbstractSocket(
		rsocket.RequestResponse(func(p payload.Payload) mono.Mono {
			if err := expectRoute(p, RouteRequestResponse); err != nil {
				return mono.Error(err)
			}
			req, err := DecodeMessage(p.Data())
			if err != nil {
				return mono.Error(err)
			}
			data, err := c.RequestResponse(req).Encode()
			if err != nil {
				return mono.Error(err)
			}
			return mono.Just(payload.New(data, nil))
		}),
		rsocket.FireAndForget(func(p payload.Payload) {
			if err := expectRoute(p, RouteFireAndForget); err != nil {
				log.WithError(err).Warn("dropped fire-and-forget request")
				return
			}
			var req Message
			if len(bytes.TrimSpace(p.Data())) > 0 {
				var err error
				if req, err = DecodeMessage(p.Data()); err != nil {
					log.WithError(err).Warn("dropped fire-and-forget request")
					return
				}
			}
			c.FireAndForget(req)
		}),
		rsocket.RequestStream(func(p payload.Payload) flux.Flux {
			if err := expectRoute(p, RouteStream); err != nil {
				return flux.Error(err)
			}
			req, err := DecodeMessage(p.Data())
			if err != nil {
				return flux.Error(err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			return messageFlux(ctx, cancel, c.Stream(ctx, req), nil)
		}),
		rsocket.RequestChannel(func(requests flux.Flux) flux.Flux {
			ctx, cancel := context.WithCancel(context.Background())
			feed := newSettingsFeed()
			msgs, errc := c.Channel(ctx, feed.settings, feed.errs)
			// 首个元素携带路由元数据与第一个间隔设置
			first := true
			inDone := make(chan struct{})
			var inOnce sync.Once
			endInput := func() { inOnce.Do(func() { close(inDone) }) }
			go requests.Subscribe(ctx,
				rx.OnSubscribe(func(_ context.Context, sub rx.Subscription) {
					cancelOnDone(ctx, inDone, sub)
					sub.Request(rx.RequestMax)
				}),
				rx.OnNext(func(p payload.Payload) error {
					if first {
						first = false
						if err := expectRoute(p, RouteChannel); err != nil {
							feed.fail(err)
							return nil
						}
						if len(bytes.TrimSpace(p.Data())) == 0 {
							return nil
						}
					}
					feed.push(ctx, p.Data())
					return nil
				}),
				rx.OnComplete(func() {
					endInput()
					feed.complete()
				}),
				rx.OnError(func(err error) {
					endInput()
					feed.fail(err)
				}),
			)
			return messageFlux(ctx, cancel, msgs, errc)
		}),
	)
}

// messageFlux 把消息通道转换为 Flux，订阅取消或结束时调用 cancel
func messageFlux(ctx context.Context, cancel context.CancelFunc, msgs <-chan Message, errc <-chan error) flux.Flux {
	return flux.Create(func(subCtx context.Context, sink flux.Sink) {
		go func() {
			for {
				select {
				case <-subCtx.Done():
					cancel()
					return
				case <-ctx.Done():
					return
				case m, ok := <-msgs:
					if !ok {
						if errc != nil {
							if err := <-errc; err != nil {
								sink.Error(err)
								return
							}
						}
						sink.Complete()
						return
					}
					data, err := m.Encode()
					if err != nil {
						cancel()
						sink.Error(err)
						return
					}
					sink.Next(payload.New(data, nil))
				}
			}
		}()
	}).DoFinally(func(rx.SignalType) {
		cancel()
	})
}

// cancelOnDone 在 done 之前 ctx 结束则取消订阅，让对端收到 CANCEL
func cancelOnDone(ctx context.Context, done <-chan struct{}, sub rx.Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-done:
		}
	}()
}
