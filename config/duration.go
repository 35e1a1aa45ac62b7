package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Duration 配置文件中的超时值
//
// JSON 中写作 "5s"、"250ms" 这样的字符串；整数按纳秒读取。
// 输出总是字符串。
type Duration time.Duration

// UnmarshalJSON 解析字符串或纳秒整数
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("invalid duration %s: want a string like \"5s\" or integer nanoseconds", data)
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Duration 转为 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Millis 毫秒数，用于日志
func (d Duration) Millis() int64 {
	return time.Duration(d).Milliseconds()
}
