package rsocketdemo

import "github.com/pkg/errors"

var (
	// ErrUnauthorized 认证失败
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClientNotFound 未找到客户端连接
	ErrClientNotFound = errors.New("client not found")
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("connection closed")
	// ErrUnknownRoute 路由未注册
	ErrUnknownRoute = errors.New("unknown route")
	// ErrInvalidMessage 负载无法解析为 Message
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidInterval channel 的间隔设置非法
	ErrInvalidInterval = errors.New("invalid interval")
)
