package rsocketdemo

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// 环境变量
const (
	EnvProfiles       = "RSOCKETDEMO_PROFILES"
	EnvAddr           = "RSOCKETDEMO_ADDR"
	EnvHTTPAddr       = "RSOCKETDEMO_HTTP_ADDR"
	EnvLogLevel       = "RSOCKETDEMO_LOG_LEVEL"
	EnvStreamInterval = "RSOCKETDEMO_STREAM_INTERVAL"
	EnvGatewaySecret  = "RSOCKETDEMO_GATEWAY_SECRET"
	EnvHeartbeat      = "RSOCKETDEMO_HEARTBEAT_INTERVAL"
	EnvZombieMaxIdle  = "RSOCKETDEMO_ZOMBIE_MAX_IDLE"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate 返回共享的 validator 实例
func Validate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// LoadOptions 按 环境变量 > envFiles > 默认值 的顺序加载配置
// envFiles 不存在时忽略
func LoadOptions(envFiles ...string) (Options, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return Options{}, errors.Wrapf(err, "load env file %s failed", f)
		}
	}
	o := DefaultOptions()
	if v, ok := os.LookupEnv(EnvProfiles); ok {
		o.Profiles = SplitList(v)
	}
	if v, ok := os.LookupEnv(EnvAddr); ok {
		o.Addr = v
	}
	if v, ok := os.LookupEnv(EnvHTTPAddr); ok {
		o.HTTPAddr = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		o.LogLevel = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvGatewaySecret); ok {
		o.GatewaySecret = v
	}
	var err error
	if o.StreamInterval, err = durationEnv(EnvStreamInterval, o.StreamInterval); err != nil {
		return Options{}, err
	}
	if o.HeartbeatInterval, err = durationEnv(EnvHeartbeat, o.HeartbeatInterval); err != nil {
		return Options{}, err
	}
	if v, ok := os.LookupEnv(EnvZombieMaxIdle); ok && v != "" {
		if o.ZombieMaxIdle, err = time.ParseDuration(v); err != nil {
			return Options{}, errors.Wrapf(err, "parse %s failed", EnvZombieMaxIdle)
		}
		o.ZombieCleanupEnabled = o.ZombieMaxIdle > 0
	}
	o.ApplyProfiles()
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate 校验配置
func (o Options) Validate() error {
	if err := Validate().Struct(o); err != nil {
		return errors.Wrap(err, "validate options failed")
	}
	return nil
}

// SplitList 拆分逗号分隔的列表，忽略空项
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// durationEnv 支持 "1500ms" 形式或纯数字秒
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s failed", key)
	}
	return d, nil
}
