package rsocketdemo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller 实现四个路由，与传输层无关
// RSocket 响应端与 WebSocket 网关共用同一个 Controller
type Controller struct {
	registry       *Registry
	streamInterval time.Duration

	running atomic.Int64
}

// NewController 创建 Controller，streamInterval 为 stream 路由的发送周期
func NewController(registry *Registry, streamInterval time.Duration) *Controller {
	if registry == nil {
		registry = NewRegistry()
	}
	if streamInterval <= 0 {
		streamInterval = time.Second
	}
	return &Controller{registry: registry, streamInterval: streamInterval}
}

// Registry 返回对端注册表
func (c *Controller) Registry() *Registry { return c.registry }

// Running 返回仍在发送的 stream/channel 计时数
func (c *Controller) Running() int64 { return c.running.Load() }

// RequestResponse 每个请求返回一条 origin=Server, interaction=Response 的消息
func (c *Controller) RequestResponse(req Message) Message {
	logger.WithField("route", RouteRequestResponse).Infof("Received request-response request: %s", req)
	return NewMessage(OriginServer, InteractionResponse)
}

// FireAndForget 仅记录请求
func (c *Controller) FireAndForget(req Message) {
	logger.WithField("route", RouteFireAndForget).Infof("Received fire-and-forget request: %s", req)
}

// Stream 每个周期发送一条带序号的消息，序号从 0 开始
// ctx 取消后关闭输出
func (c *Controller) Stream(ctx context.Context, req Message) <-chan Message {
	logger.WithField("route", RouteStream).Infof("Received stream request: %s", req)
	out := make(chan Message)
	go func() {
		defer close(out)
		c.interval(ctx, c.streamInterval, InteractionStream, out)
	}()
	return out
}

// Channel 每收到一个间隔设置就取消当前计时，按新周期从序号 0 重新开始
//
// settings 关闭后当前计时继续运行；若从未收到设置则直接结束。
// inErrs 收到错误时以该错误结束，错误在输出关闭前写入返回的错误通道。
func (c *Controller) Channel(ctx context.Context, settings <-chan time.Duration, inErrs <-chan error) (<-chan Message, <-chan error) {
	log := logger.WithField("route", RouteChannel)
	log.Info("Received channel request...")
	out := make(chan Message)
	errc := make(chan error, 1)
	go func() {
		var inner innerInterval
		defer close(out)
		defer close(errc)
		defer inner.stop()
		for {
			if settings == nil && inErrs == nil && inner.done == nil {
				return
			}
			select {
			case <-ctx.Done():
				log.Warn("The client cancelled the channel.")
				return
			case d, ok := <-settings:
				if !ok {
					settings = nil
					if inner.done == nil && inErrs == nil {
						return
					}
					continue
				}
				log.WithField("interval", d).Infof("Channel frequency setting is %d second(s).", int64(d/time.Second))
				inner.stop()
				inner.start(ctx, func(innerCtx context.Context) {
					c.interval(innerCtx, d, InteractionChannel, out)
				})
			case err, ok := <-inErrs:
				if !ok {
					inErrs = nil
					continue
				}
				log.WithError(err).Warn("channel inbound failed")
				errc <- err
				return
			}
		}
	}()
	return out, errc
}

// Shutdown 释放所有剩余对端
func (c *Controller) Shutdown() error {
	logger.WithField("peers", c.registry.Len()).Info("Detaching all remaining clients...")
	err := c.registry.DisposeAll()
	if err != nil {
		logger.WithError(err).Warn("detach clients failed")
	}
	logger.Info("Shutting down.")
	return err
}

// innerInterval channel 当前生效的计时
type innerInterval struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (i *innerInterval) start(ctx context.Context, run func(context.Context)) {
	innerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	i.cancel, i.done = cancel, done
	go func() {
		defer close(done)
		run(innerCtx)
	}()
}

// stop 取消并等待计时退出，保证新计时开始前旧计时不再写入
func (i *innerInterval) stop() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
	i.cancel, i.done = nil, nil
}

// interval 首条消息在一个周期后发送
func (c *Controller) interval(ctx context.Context, period time.Duration, interaction string, out chan<- Message) {
	c.running.Add(1)
	defer c.running.Add(-1)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for i := int64(0); ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		select {
		case out <- NewIndexedMessage(OriginServer, interaction, i):
		case <-ctx.Done():
			return
		}
	}
}

// settingsFeed 把传输层收到的 channel 元素转换为 Controller.Channel 的输入
type settingsFeed struct {
	settings chan time.Duration
	errs     chan error

	mu     sync.Mutex
	closed bool
}

func newSettingsFeed() *settingsFeed {
	return &settingsFeed{
		settings: make(chan time.Duration),
		errs:     make(chan error, 1),
	}
}

// push 解析并投递一个设置，解析失败时以 ErrInvalidInterval 结束输入
func (f *settingsFeed) push(ctx context.Context, data []byte) {
	d, err := ParseInterval(data)
	if err != nil {
		f.fail(err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.settings <- d:
	case <-ctx.Done():
	}
}

func (f *settingsFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.errs <- err
	close(f.errs)
	close(f.settings)
}

func (f *settingsFeed) complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.settings)
	close(f.errs)
}

func peerLogger(id, transport string) logrus.FieldLogger {
	return logger.WithFields(logrus.Fields{"peer": id, "transport": transport})
}
