package domain

import (
	"regexp"
	"strings"
)

// CanonicalID 是外部可移植的影片主键（IMDb tt 编号）。
//
// 约束：要么通过 ParseCanonicalID 得到合法值，要么视为不存在；不做“猜测式修正”。
type CanonicalID string

var canonicalRE = regexp.MustCompile(`^tt\d{7,8}$`)

// ParseCanonicalID 校验 tt + 7~8 位数字的固定格式。
func ParseCanonicalID(s string) (CanonicalID, bool) {
	s = strings.TrimSpace(s)
	if !canonicalRE.MatchString(s) {
		return "", false
	}
	return CanonicalID(s), true
}

// NativePrefix 是站点原生 ID 的对外前缀（einthusan_<nativeId>）。
const NativePrefix = "einthusan_"

// 路由层历史上也接受 "einthusan_id:" 形式。
const legacyNativePrefix = "einthusan_id:"

// NativeRef 把原生 ID 包装为对外 ID。
func NativeRef(nativeID string) string {
	return NativePrefix + nativeID
}

// ParseNativeRef 从对外 ID 中剥离原生前缀；不是原生形态时 ok=false。
func ParseNativeRef(id string) (string, bool) {
	id = strings.TrimSpace(id)
	for _, p := range []string{legacyNativePrefix, NativePrefix} {
		if strings.HasPrefix(id, p) {
			n := strings.TrimSpace(strings.TrimPrefix(id, p))
			if n == "" || strings.Contains(n, "/") {
				return "", false
			}
			return n, true
		}
	}
	return "", false
}
