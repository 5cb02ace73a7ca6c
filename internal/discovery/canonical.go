package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	errs "github.com/iceymoss/go-discovery/pkg/errors"
)

// MaxCanonicalURLLen 与 canonical_url 列宽一致
const MaxCanonicalURLLen = 768

// 跟踪参数，匹配时忽略大小写
var trackingParams = map[string]struct{}{
	"utm":     {},
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"yclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
	"_hsenc":  {},
	"_hsmi":   {},
	"spm":     {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// Canonicalize 规范化 URL：scheme/host 小写，去默认端口、fragment、跟踪参数和末尾斜杠，其余参数排序
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errs.Validation(fmt.Sprintf("invalid url %q", raw))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errs.Validation(fmt.Sprintf("unsupported url scheme in %q", raw))
	}
	if u.Host == "" {
		return "", errs.Validation(fmt.Sprintf("url %q has no host", raw))
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		for key := range values {
			if isTrackingParam(key) {
				values.Del(key)
			}
		}
		// Encode 按 key 排序
		u.RawQuery = values.Encode()
	}
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	if u.RawPath != "" {
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}

	canonical := u.String()
	if len(canonical) > MaxCanonicalURLLen {
		return "", errs.Validation("canonical url too long")
	}
	return canonical, nil
}

// URLHash sha256(canonical) 的十六进制
func URLHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
