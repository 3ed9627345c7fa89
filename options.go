package rsocketdemo

import (
	"strings"
	"time"
)

// Options 控制监听地址、流间隔、会话恢复、心跳、自动重连等行为
type Options struct {
	// RSocket TCP 监听地址
	Addr string `validate:"required"`
	// HTTP 监听地址（/ws、/healthz、/peers），为空则不启动
	HTTPAddr string
	// 激活的 profile
	Profiles []string
	LogLevel string `validate:"oneof=trace debug info warn error"`

	// stream 路由的发送周期
	StreamInterval time.Duration `validate:"gt=0"`

	// 会话恢复
	ResumeEnabled         bool
	ResumeSessionDuration time.Duration `validate:"gt=0"`
	ResumeTimeout         time.Duration `validate:"gt=0"`

	// 网关认证，为空时使用匿名 ID
	GatewaySecret string

	// 心跳开关与周期
	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration

	// 自动重连（网关客户端）
	ReconnectEnabled    bool
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration

	// 僵尸连接清理
	ZombieCleanupEnabled bool
	ZombieCheckInterval  time.Duration
	ZombieMaxIdle        time.Duration
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		Addr:                  ":7000",
		HTTPAddr:              ":8080",
		LogLevel:              "info",
		StreamInterval:        time.Second,
		ResumeEnabled:         false,
		ResumeSessionDuration: DefaultResumeSessionDuration,
		ResumeTimeout:         DefaultResumeTimeout,
		HeartbeatEnabled:      true,
		HeartbeatInterval:     30 * time.Second,
		ReconnectEnabled:      false,
		ReconnectBackoff:      1 * time.Second,
		ReconnectMaxBackoff:   30 * time.Second,
		ZombieCleanupEnabled:  false,
		ZombieCheckInterval:   30 * time.Second,
		ZombieMaxIdle:         2 * time.Minute,
	}
}

// mergeOptions 合并：开关直接覆盖，其余仅非零值覆盖
func mergeOptions(opts *Options) Options {
	o := DefaultOptions()
	if opts == nil {
		return o
	}
	if opts.Addr != "" {
		o.Addr = opts.Addr
	}
	o.HTTPAddr = opts.HTTPAddr
	if len(opts.Profiles) > 0 {
		o.Profiles = append([]string(nil), opts.Profiles...)
	}
	if opts.LogLevel != "" {
		o.LogLevel = opts.LogLevel
	}
	if opts.StreamInterval != 0 {
		o.StreamInterval = opts.StreamInterval
	}
	o.ResumeEnabled = opts.ResumeEnabled
	if opts.ResumeSessionDuration != 0 {
		o.ResumeSessionDuration = opts.ResumeSessionDuration
	}
	if opts.ResumeTimeout != 0 {
		o.ResumeTimeout = opts.ResumeTimeout
	}
	o.GatewaySecret = opts.GatewaySecret
	o.HeartbeatEnabled = opts.HeartbeatEnabled
	if opts.HeartbeatInterval != 0 {
		o.HeartbeatInterval = opts.HeartbeatInterval
	}
	o.ReconnectEnabled = opts.ReconnectEnabled
	if opts.ReconnectBackoff != 0 {
		o.ReconnectBackoff = opts.ReconnectBackoff
	}
	if opts.ReconnectMaxBackoff != 0 {
		o.ReconnectMaxBackoff = opts.ReconnectMaxBackoff
	}
	o.ZombieCleanupEnabled = opts.ZombieCleanupEnabled
	if opts.ZombieCheckInterval != 0 {
		o.ZombieCheckInterval = opts.ZombieCheckInterval
	}
	if opts.ZombieMaxIdle != 0 {
		o.ZombieMaxIdle = opts.ZombieMaxIdle
	}
	o.ApplyProfiles()
	return o
}

// HasProfile 判断 profile 是否激活（忽略大小写）
func (o Options) HasProfile(name string) bool {
	for _, p := range o.Profiles {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

// ApplyProfiles 根据激活的 profile 调整配置
func (o *Options) ApplyProfiles() {
	if o.HasProfile(ProfileResumption) {
		o.ResumeEnabled = true
	}
}
