// Package utils 通用小工具，不依赖 internal
package utils

// CoalesceString 返回第一个非空字符串
func CoalesceString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// DefaultInt 若 v 为 0 则返回 defaultVal
func DefaultInt(v, defaultVal int) int {
	if v == 0 {
		return defaultVal
	}
	return v
}

// DefaultInt64 若 v <= 0 则返回 defaultVal（计数/长度类配置用）
func DefaultInt64(v, defaultVal int64) int64 {
	if v <= 0 {
		return defaultVal
	}
	return v
}

// ClampInt 把 v 钳制到 [lo, hi]
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
