// Package locator 由 state_hash 派生内容寻址定位符。
// 这些定位符是未来分布式存储接入的占位，本包不做任何网络传输。
package locator

import "fmt"

// 已知方案
const (
	SchemeIPFS    = "ipfs"
	SchemeArweave = "arweave"
)

// DefaultSchemes 未配置时使用的方案
var DefaultSchemes = []string{SchemeIPFS, SchemeArweave}

// For 返回单个方案下 stateHash 的定位符
func For(scheme, stateHash string) string {
	switch scheme {
	case SchemeIPFS:
		return fmt.Sprintf("ipfs://Qm%s", stateHash)
	default:
		return fmt.Sprintf("%s://%s", scheme, stateHash)
	}
}

// Derive 为每个方案生成定位符；相同输入总是得到相同输出
func Derive(stateHash string, schemes []string) map[string]string {
	out := make(map[string]string, len(schemes))
	for _, s := range schemes {
		if s == "" {
			continue
		}
		out[s] = For(s, stateHash)
	}
	return out
}
