package rsocketdemo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// TransportWebsocket 网关连接的传输名
const TransportWebsocket = "websocket"

// interaction 网关上一次进行中的 stream/channel 交互
type interaction struct {
	ctx    context.Context
	cancel context.CancelFunc
	feed   *settingsFeed // 仅 channel
}

// Conn 封装单个 WebSocket 连接与事件处理
type Conn struct {
	id           string
	ws           *websocket.Conn
	handlers     map[string]func(Envelope)
	interactions map[string]*interaction
	mu           sync.RWMutex
	closed       chan struct{}
	closedOnce   sync.Once
	writeMu      sync.Mutex
	// heartbeat
	heartbeatInterval time.Duration
	heartbeatTicker   *time.Ticker
	stopHeartbeat     chan struct{}
	lastActivity      time.Time
}

// NewConn 创建连接封装
func NewConn(id string, ws *websocket.Conn) *Conn {
	c := &Conn{
		id:            id,
		ws:            ws,
		handlers:      make(map[string]func(Envelope)),
		interactions:  make(map[string]*interaction),
		closed:        make(chan struct{}),
		stopHeartbeat: make(chan struct{}),
		lastActivity:  time.Now(),
	}
	// 默认 pong 处理：刷新读超时
	ws.SetPongHandler(func(appData string) error {
		c.mu.Lock()
		interval := c.heartbeatInterval
		c.lastActivity = time.Now()
		c.mu.Unlock()
		if interval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(interval * 3))
		}
		return nil
	})
	return c
}

// ID 连接 ID
func (c *Conn) ID() string { return c.id }

// Transport 传输名
func (c *Conn) Transport() string { return TransportWebsocket }

// RemoteAddr 对端地址
func (c *Conn) RemoteAddr() string {
	if c == nil || c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}

// On 注册事件处理器
func (c *Conn) On(event string, handler func(env Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *Conn) handler(event string) (func(Envelope), bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[event]
	return h, ok
}

// Emit 向对端发送事件，payload 为 nil 时不带负载
func (c *Conn) Emit(event, id string, payload any) error {
	if c == nil || c.ws == nil {
		return ErrConnClosed
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	env := Envelope{Event: event, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "marshal %s payload failed", event)
		}
		env.Payload = data
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// EmitError 发送 error 事件
func (c *Conn) EmitError(id string, err error) error {
	return c.Emit(EventError, id, err.Error())
}

// Run 读取循环，收到消息后交给回调处理
func (c *Conn) Run(onMessage func(env Envelope)) {
	c.mu.RLock()
	interval := c.heartbeatInterval
	c.mu.RUnlock()
	// 如果启用心跳，设置初始读超时
	if interval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(interval * 3))
	}
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				peerLogger(c.id, TransportWebsocket).WithError(err).Debug("read failed")
			}
			c.markClosed()
			return
		}
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
		onMessage(env)
	}
}

// Close 主动关闭连接，并取消所有进行中的交互
func (c *Conn) Close() error {
	if c == nil || c.ws == nil {
		return nil
	}
	c.markClosed()
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

// reject 以 policy violation 关闭尚未注册的连接
func (c *Conn) reject(reason string) {
	c.markClosed()
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// Closed 返回关闭通知通道
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// LastActivity 返回最近一次活动时间（读或 pong）
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// StartHeartbeat 启动 ping 定时器
func (c *Conn) StartHeartbeat(interval time.Duration) {
	if interval <= 0 || c == nil || c.ws == nil {
		return
	}
	c.mu.Lock()
	c.heartbeatInterval = interval
	if c.heartbeatTicker != nil {
		c.mu.Unlock()
		return
	}
	ticker := time.NewTicker(interval)
	c.heartbeatTicker = ticker
	c.mu.Unlock()
	go func() {
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				deadline := time.Now().Add(5 * time.Second)
				err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
				c.writeMu.Unlock()
				if err != nil {
					peerLogger(c.id, TransportWebsocket).WithError(err).Warn("ping failed")
					c.markClosed()
					return
				}
			case <-c.stopHeartbeat:
				return
			case <-c.closed:
				return
			}
		}
	}()
}

func (c *Conn) stopHeartbeatLoop() {
	c.mu.Lock()
	if c.heartbeatTicker != nil {
		c.heartbeatTicker.Stop()
		c.heartbeatTicker = nil
	}
	c.mu.Unlock()
	select {
	case <-c.stopHeartbeat:
	default:
		close(c.stopHeartbeat)
	}
}

// track 登记进行中的交互，id 已存在时返回 false
func (c *Conn) track(id string, it *interaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.interactions[id]; ok {
		return false
	}
	c.interactions[id] = it
	return true
}

func (c *Conn) lookup(id string) (*interaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.interactions[id]
	return it, ok
}

// untrack 移除并取消交互
func (c *Conn) untrack(id string) bool {
	c.mu.Lock()
	it, ok := c.interactions[id]
	delete(c.interactions, id)
	c.mu.Unlock()
	if ok {
		it.cancel()
	}
	return ok
}

// release 交互结束时移除，仅当登记的仍是 it
func (c *Conn) release(id string, it *interaction) {
	c.mu.Lock()
	if cur, ok := c.interactions[id]; ok && cur == it {
		delete(c.interactions, id)
	}
	c.mu.Unlock()
	it.cancel()
}

func (c *Conn) cancelInteractions() {
	c.mu.Lock()
	its := c.interactions
	c.interactions = make(map[string]*interaction)
	c.mu.Unlock()
	for _, it := range its {
		it.cancel()
	}
}

// markClosed 安全关闭 closed 通道
func (c *Conn) markClosed() {
	c.closedOnce.Do(func() {
		c.stopHeartbeatLoop()
		c.cancelInteractions()
		close(c.closed)
	})
}
