package rsocketdemo

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// GatewayClient 封装 /ws 网关的客户端行为
type GatewayClient struct {
	Conn *Conn

	url    string
	id     string
	secret string
	opts   Options

	mu       sync.Mutex
	handlers map[string]func(Envelope)
	stop     chan struct{}
}

// ConnectGateway 连接到网关，并启动读取循环（opts 为 nil 时使用默认配置）
// 若 id 为空，将自动随机生成；secret 可为空（匿名网关）
func ConnectGateway(urlStr, id, secret string, opts *Options) (*GatewayClient, error) {
	o := mergeOptions(opts)

	// 兼容两种传递方式：Header 与 Query
	if id == "" {
		id = uuid.NewString()
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse gateway url %s failed", urlStr)
	}
	q := u.Query()
	q.Set("id", id)
	if secret != "" {
		q.Set("secret", secret)
	}
	u.RawQuery = q.Encode()

	c := &GatewayClient{
		url:      u.String(),
		id:       id,
		secret:   secret,
		opts:     o,
		handlers: make(map[string]func(Envelope)),
		stop:     make(chan struct{}),
	}
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.Conn = conn
	go c.runReadLoop(conn)
	if o.ReconnectEnabled {
		go c.reconnectWatcher(conn)
	}
	return c, nil
}

func (c *GatewayClient) dial() (*Conn, error) {
	header := http.Header{}
	header.Set("X-Client-ID", c.id)
	if c.secret != "" {
		header.Set("X-Client-Secret", c.secret)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrapf(err, "dial %s failed", c.url)
	}
	conn := NewConn(c.id, ws)
	if c.opts.HeartbeatEnabled && c.opts.HeartbeatInterval > 0 {
		conn.StartHeartbeat(c.opts.HeartbeatInterval)
	}
	return conn, nil
}

// ID 客户端 ID
func (c *GatewayClient) ID() string { return c.id }

// On 注册事件处理器，重连后仍然有效
func (c *GatewayClient) On(event string, handler func(env Envelope)) {
	c.mu.Lock()
	c.handlers[event] = handler
	conn := c.Conn
	c.mu.Unlock()
	if conn != nil {
		conn.On(event, handler)
	}
}

func (c *GatewayClient) runReadLoop(current *Conn) {
	current.Run(func(env Envelope) {
		if handler, ok := current.handler(env.Event); ok {
			handler(env)
		}
	})
	_ = current.Close()
}

// Emit 代理到当前连接（便于在自动重连时避免使用旧指针）
func (c *GatewayClient) Emit(event, id string, payload any) error {
	c.mu.Lock()
	conn := c.Conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnClosed
	}
	return conn.Emit(event, id, payload)
}

func (c *GatewayClient) reconnectWatcher(current *Conn) {
	// 同时监听 stop 与当前连接关闭
	select {
	case <-c.stop:
		return
	case <-current.Closed():
	}
	backoff := c.opts.ReconnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; ; attempt++ {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Debug("gateway reconnect failed")
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := c.opts.ReconnectMaxBackoff; max > 0 && backoff > max {
				backoff = max
			}
			continue
		}

		// 复制 handlers
		c.mu.Lock()
		for k, v := range c.handlers {
			conn.On(k, v)
		}
		c.Conn = conn
		c.mu.Unlock()

		go c.runReadLoop(conn)
		// 继续监视新连接
		go c.reconnectWatcher(conn)
		return
	}
}

// Close 停止自动重连并关闭当前连接
func (c *GatewayClient) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	conn := c.Conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
