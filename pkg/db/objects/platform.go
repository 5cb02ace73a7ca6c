package objects

import "strings"

const DefaultPlatformLimit = 5000

// 各平台正文长度上限（按字符计）
var platformLimits = map[string]int{
	"x":         280,
	"twitter":   280,
	"linkedin":  3000,
	"instagram": 2200,
	"threads":   500,
	"mastodon":  500,
	"bluesky":   300,
}

// PlatformLimit 返回平台正文长度上限，未知平台使用默认值
func PlatformLimit(platform string) int {
	if n, ok := platformLimits[strings.ToLower(platform)]; ok {
		return n
	}
	return DefaultPlatformLimit
}
