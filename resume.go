package rsocketdemo

import (
	"time"

	"github.com/rsocket/rsocket-go"
)

// ProfileResumption 激活后开启会话恢复
const ProfileResumption = "resumption"

// 会话恢复默认参数，会话保存在 rsocket-go 的内存存储中
const (
	DefaultResumeSessionDuration = 120 * time.Second
	DefaultResumeTimeout         = 10 * time.Second
)

// serverResumeOptions 未开启时返回 nil
func serverResumeOptions(o Options) []rsocket.OpServerResume {
	if !o.ResumeEnabled {
		return nil
	}
	return []rsocket.OpServerResume{
		rsocket.WithServerResumeSessionDuration(o.ResumeSessionDuration),
	}
}
