package rsocketdemo

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway 通过 WebSocket 暴露与 RSocket 相同的四个路由
//
// 帧格式为 Envelope：event 为路由名或 cancel/complete，id 关联同一次交互。
// stream/channel 的每个输出元素以相同 id 返回，结束时发送 complete 或 error。
type Gateway struct {
	controller *Controller
	auth       Authenticator
	opts       Options

	cleanupTick *time.Ticker
}

// NewGateway 创建 Gateway
func NewGateway(controller *Controller, auth Authenticator, opts Options) *Gateway {
	if auth == nil {
		auth = AnonymousAuth{}
	}
	return &Gateway{controller: controller, auth: auth, opts: opts}
}

// HandleWS 处理 /ws 升级请求
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx, clientID, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(ctx)

	registry := g.controller.Registry()
	// 快速拒绝；并发升级由 AddIfAbsent 兜底
	if _, err := registry.Get(clientID); err == nil {
		http.Error(w, "client id already connected", http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConn(clientID, ws)
	log := peerLogger(clientID, TransportWebsocket)
	if !registry.AddIfAbsent(conn) {
		log.Warn("client id already connected")
		conn.reject("client id already connected")
		return
	}
	log.WithField("remote", conn.RemoteAddr()).Info("client connected")

	// 心跳：发送 ping 并设置 read deadline
	if g.opts.HeartbeatEnabled && g.opts.HeartbeatInterval > 0 {
		conn.StartHeartbeat(g.opts.HeartbeatInterval)
	}

	go func() {
		<-conn.Closed()
		_ = conn.Close()
		registry.RemovePeer(conn)
		log.Info("client disconnected")
	}()

	go conn.Run(func(env Envelope) { g.dispatch(conn, env) })
}

// dispatch 按 event 分发；在读循环中同步执行，保证同一 channel 的设置按序处理
func (g *Gateway) dispatch(c *Conn, env Envelope) {
	log := peerLogger(c.ID(), TransportWebsocket).WithField("event", env.Event)
	switch env.Event {
	case RouteRequestResponse:
		req, err := DecodeMessage(env.Payload)
		if err != nil {
			g.emitError(c, env.ID, err)
			return
		}
		if err := c.Emit(RouteRequestResponse, env.ID, g.controller.RequestResponse(req)); err != nil {
			log.WithError(err).Warn("emit response failed")
		}
	case RouteFireAndForget:
		var req Message
		if len(env.Payload) > 0 && string(env.Payload) != "null" {
			var err error
			if req, err = DecodeMessage(env.Payload); err != nil {
				log.WithError(err).Warn("dropped fire-and-forget request")
				return
			}
		}
		g.controller.FireAndForget(req)
	case RouteStream:
		if env.ID == "" {
			g.emitError(c, env.ID, errors.New("stream requires an id"))
			return
		}
		req, err := DecodeMessage(env.Payload)
		if err != nil {
			g.emitError(c, env.ID, err)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		it := &interaction{ctx: ctx, cancel: cancel}
		if !c.track(env.ID, it) {
			cancel()
			g.emitError(c, env.ID, errors.Errorf("interaction %s already active", env.ID))
			return
		}
		go g.pump(c, RouteStream, env.ID, it, g.controller.Stream(ctx, req), nil)
	case RouteChannel:
		if env.ID == "" {
			g.emitError(c, env.ID, errors.New("channel requires an id"))
			return
		}
		if it, ok := c.lookup(env.ID); ok {
			if it.feed == nil {
				g.emitError(c, env.ID, errors.Errorf("interaction %s is not a channel", env.ID))
				return
			}
			it.feed.push(it.ctx, env.Payload)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		feed := newSettingsFeed()
		it := &interaction{ctx: ctx, cancel: cancel, feed: feed}
		c.track(env.ID, it)
		msgs, errc := g.controller.Channel(ctx, feed.settings, feed.errs)
		go g.pump(c, RouteChannel, env.ID, it, msgs, errc)
		if len(env.Payload) > 0 && string(env.Payload) != "null" {
			feed.push(ctx, env.Payload)
		}
	case EventComplete:
		if it, ok := c.lookup(env.ID); ok && it.feed != nil {
			it.feed.complete()
		}
	case EventCancel:
		if !c.untrack(env.ID) {
			log.WithField("id", env.ID).Debug("cancel for unknown interaction")
		}
	default:
		log.Warn("unhandled event")
		g.emitError(c, env.ID, errors.Wrap(ErrUnknownRoute, env.Event))
	}
}

// pump 把交互输出写回连接，结束时发送 complete 或 error
func (g *Gateway) pump(c *Conn, event, id string, it *interaction, msgs <-chan Message, errc <-chan error) {
	defer c.release(id, it)
	failed := false
	for m := range msgs {
		if failed {
			continue
		}
		if err := c.Emit(event, id, m); err != nil {
			peerLogger(c.ID(), TransportWebsocket).WithError(err).Debug("emit failed, cancelling interaction")
			failed = true
			it.cancel()
		}
	}
	if failed {
		return
	}
	if errc != nil {
		if err := <-errc; err != nil {
			g.emitError(c, id, err)
			return
		}
	}
	select {
	case <-c.Closed():
		return
	default:
	}
	if it.ctx.Err() != nil {
		// 已被 cancel
		return
	}
	_ = c.Emit(EventComplete, id, nil)
}

func (g *Gateway) emitError(c *Conn, id string, err error) {
	if emitErr := c.EmitError(id, err); emitErr != nil {
		peerLogger(c.ID(), TransportWebsocket).WithError(emitErr).Debug("emit error failed")
	}
}

// StartCleanup 启动僵尸连接清理，ctx 结束时停止
func (g *Gateway) StartCleanup(ctx context.Context) {
	if !g.opts.ZombieCleanupEnabled || g.opts.ZombieCheckInterval <= 0 || g.opts.ZombieMaxIdle <= 0 {
		return
	}
	g.cleanupTick = time.NewTicker(g.opts.ZombieCheckInterval)
	go func(tick *time.Ticker) {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				g.cleanupZombies(time.Now())
			}
		}
	}(g.cleanupTick)
}

// cleanupZombies 关闭超时无活动的网关连接
func (g *Gateway) cleanupZombies(now time.Time) int {
	registry := g.controller.Registry()
	var toClose []*Conn
	for _, info := range registry.List() {
		if info.Transport != TransportWebsocket {
			continue
		}
		p, err := registry.Get(info.ID)
		if err != nil {
			continue
		}
		c, ok := p.(*Conn)
		if !ok {
			continue
		}
		last := c.LastActivity()
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > g.opts.ZombieMaxIdle {
			toClose = append(toClose, c)
		}
	}
	for _, c := range toClose {
		_ = c.Close()
		registry.RemovePeer(c)
		logger.WithField("peer", c.ID()).Info("cleaned zombie connection")
	}
	return len(toClose)
}
