package rsocketdemo

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Authenticator 定义网关认证接口，返回 context、clientID 和 error
type Authenticator interface {
	Authenticate(r *http.Request) (context.Context, string, error)
}

// SecretIDAuth 基于 id + secret 的简单认证
// 从 Header 读取 (X-Client-ID, X-Client-Secret)，若不存在则回退到查询参数 (?id=&secret=)
// 未携带 id 时生成随机 id
type SecretIDAuth struct {
	Secret       string
	IDHeader     string // 默认 X-Client-ID
	SecretHeader string // 默认 X-Client-Secret
}

// Authenticate 仅校验 secret 是否与预期一致
func (a *SecretIDAuth) Authenticate(r *http.Request) (context.Context, string, error) {
	if a == nil || a.Secret == "" {
		return nil, "", ErrUnauthorized
	}
	id, secret := credentials(r, a.IDHeader, a.SecretHeader)
	if secret != a.Secret {
		return nil, "", ErrUnauthorized
	}
	if id == "" {
		id = uuid.NewString()
	}
	return r.Context(), id, nil
}

// AnonymousAuth 不做校验，沿用请求携带的 id，否则生成随机 id
type AnonymousAuth struct{}

// Authenticate 总是成功
func (AnonymousAuth) Authenticate(r *http.Request) (context.Context, string, error) {
	id, _ := credentials(r, "", "")
	if id == "" {
		id = uuid.NewString()
	}
	return r.Context(), id, nil
}

// AuthFromOptions 配置了 GatewaySecret 时使用 SecretIDAuth
func AuthFromOptions(o Options) Authenticator {
	if o.GatewaySecret != "" {
		return &SecretIDAuth{Secret: o.GatewaySecret}
	}
	return AnonymousAuth{}
}

func credentials(r *http.Request, idHeader, secretHeader string) (string, string) {
	if idHeader == "" {
		idHeader = "X-Client-ID"
	}
	if secretHeader == "" {
		secretHeader = "X-Client-Secret"
	}
	id := r.Header.Get(idHeader)
	secret := r.Header.Get(secretHeader)
	if id == "" || secret == "" {
		q := r.URL.Query()
		if id == "" {
			id = q.Get("id")
		}
		if secret == "" {
			secret = q.Get("secret")
		}
	}
	return id, secret
}
