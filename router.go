package rsocketdemo

import (
	"github.com/pkg/errors"
	"github.com/rsocket/rsocket-go/extension"
	"github.com/rsocket/rsocket-go/payload"
)

// 路由名
const (
	RouteRequestResponse = "request-response"
	RouteFireAndForget   = "fire-and-forget"
	RouteStream          = "stream"
	RouteChannel         = "channel"
)

// MIME 类型
const (
	MimeTypeJSON    = "application/json"
	MimeTypeRouting = "message/x.rsocket.routing.v0"
)

// RouteMetadata 编码路由元数据
func RouteMetadata(route string) ([]byte, error) {
	md, err := extension.EncodeRouting(route)
	if err != nil {
		return nil, errors.Wrapf(err, "encode route %s failed", route)
	}
	return md, nil
}

// RouteOf 从负载的路由元数据中取第一个 tag
func RouteOf(p payload.Payload) (string, error) {
	md, ok := p.Metadata()
	if !ok || len(md) == 0 {
		return "", errors.Wrap(ErrUnknownRoute, "missing routing metadata")
	}
	tags, err := extension.ParseRoutingTags(md)
	if err != nil {
		return "", errors.Wrapf(ErrUnknownRoute, "parse routing metadata: %v", err)
	}
	if len(tags) == 0 {
		return "", errors.Wrap(ErrUnknownRoute, "empty routing metadata")
	}
	return tags[0], nil
}

// expectRoute 校验交互类型与路由匹配
func expectRoute(p payload.Payload, want string) error {
	route, err := RouteOf(p)
	if err != nil {
		return err
	}
	if route != want {
		return errors.Wrapf(ErrUnknownRoute, "no %s handler for route %q", want, route)
	}
	return nil
}
