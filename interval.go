package rsocketdemo

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sosodev/duration"
)

// isoDuration 与 java.time.Duration 一致的子集：PnDTnHnMnS，每个分量最多出现一次且按序
var isoDuration = regexp.MustCompile(`^-?P(\d+(\.\d+)?D)?(T(\d+(\.\d+)?H)?(\d+(\.\d+)?M)?(\d+(\.\d+)?S)?)?$`)

// maxIntervalSeconds time.Duration 能表示的最大秒数
var maxIntervalSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseInterval 解析 channel 的间隔设置
// 支持：JSON 数字（秒，可带小数）、ISO-8601 字符串（"PT2S"、"P1D"）、Go duration 字符串（"1500ms"）
func ParseInterval(data []byte) (time.Duration, error) {
	s := bytes.TrimSpace(data)
	if len(s) == 0 {
		return 0, errors.Wrap(ErrInvalidInterval, "empty setting")
	}
	var d time.Duration
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(s, &str); err != nil {
			return 0, errors.Wrapf(ErrInvalidInterval, "decode %q: %v", s, err)
		}
		var err error
		if d, err = parseDurationString(str); err != nil {
			return 0, err
		}
	} else {
		var secs float64
		if err := json.Unmarshal(s, &secs); err != nil {
			return 0, errors.Wrapf(ErrInvalidInterval, "decode %q: %v", s, err)
		}
		if secs >= maxIntervalSeconds {
			return 0, errors.Wrapf(ErrInvalidInterval, "interval %s seconds out of range", s)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, errors.Wrapf(ErrInvalidInterval, "non-positive interval %s", d)
	}
	return d, nil
}

// EncodeInterval 以秒数编码间隔
func EncodeInterval(d time.Duration) []byte {
	return []byte(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

func parseDurationString(s string) (time.Duration, error) {
	iso := strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(iso, "P") || strings.HasPrefix(iso, "-P") {
		if !isoDuration.MatchString(iso) {
			return 0, errors.Wrapf(ErrInvalidInterval, "parse %q: malformed ISO-8601 duration", s)
		}
		parsed, err := duration.Parse(iso)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidInterval, "parse %q: %v", s, err)
		}
		secs := parsed.Days*86400 + parsed.Hours*3600 + parsed.Minutes*60 + parsed.Seconds
		if secs >= maxIntervalSeconds {
			return 0, errors.Wrapf(ErrInvalidInterval, "parse %q: out of range", s)
		}
		return parsed.ToTimeDuration(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInterval, "parse %q: %v", s, err)
	}
	return d, nil
}
