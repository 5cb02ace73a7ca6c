package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// Kind 抓取失败的类别
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindNetwork     Kind = "network"
	KindParse       Kind = "parse"
)

// FetchError 抓取失败，RetryAfter 仅在限流时有意义
type FetchError struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap 限流与网络错误为 Transient，解析错误为 Permanent
func (e *FetchError) Unwrap() error {
	code := xerr.ErrTransient
	if e.Kind == KindParse {
		code = xerr.ErrPermanent
	}
	return &errs.CodeMsg{Code: code, Msg: string(e.Kind), Err: e.Err}
}

// AsFetchError 非 FetchError 的错误按网络错误处理
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindNetwork, Err: err}
}

func RateLimited(retryAfter time.Duration, err error) error {
	return &FetchError{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

func Network(err error) error { return &FetchError{Kind: KindNetwork, Err: err} }

func Parse(err error) error { return &FetchError{Kind: KindParse, Err: err} }

// Request 一次 (source, query) 抓取
type Request struct {
	Source *objects.ContentSource
	Topic  *objects.Topic
	Query  *objects.TopicQuery
	// Since 早于该时间发布的条目被丢弃，零值表示不限
	Since    time.Time
	MaxItems int
}

// Fetcher (source, query) -> 原始条目 | FetchError
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]discovery.Item, error)
}

// Registry 按来源类型选择抓取实现
type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]Fetcher{}}
}

// NewDefaultRegistry RSS 走 feed 解析，WEB 走 HTML 解析
func NewDefaultRegistry(client *http.Client, userAgent string) *Registry {
	r := NewRegistry()
	r.Register(objects.SourceTypeRSS, NewRSSFetcher(client, userAgent))
	r.Register(objects.SourceTypeWEB, NewWebFetcher(client, userAgent))
	return r
}

func (r *Registry) Register(sourceType string, f Fetcher) {
	r.fetchers[strings.ToUpper(sourceType)] = f
}

func (r *Registry) Resolve(sourceType string) (Fetcher, error) {
	if f, ok := r.fetchers[strings.ToUpper(sourceType)]; ok {
		return f, nil
	}
	return nil, Parse(fmt.Errorf("no fetcher registered for source type %s", sourceType))
}

// checkStatus 429 -> 限流，其余非 2xx -> 网络错误
func checkStatus(resp *http.Response, now time.Time) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimited(parseRetryAfter(resp.Header.Get("Retry-After"), now), fmt.Errorf("%s", resp.Status))
	}
	return Network(fmt.Errorf("unexpected status %s", resp.Status))
}

// parseRetryAfter 支持秒数和 HTTP 日期两种格式
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func newRequest(ctx context.Context, url, userAgent, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Parse(fmt.Errorf("build request: %w", err))
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", accept)
	return req, nil
}

// matchesQuery 条目至少包含检索语句中的一个词，空检索语句全部保留
func matchesQuery(q *objects.TopicQuery, texts ...string) bool {
	if q == nil || strings.TrimSpace(q.QueryText) == "" {
		return true
	}
	hay := strings.ToLower(strings.Join(texts, " "))
	for _, term := range strings.Fields(strings.ToLower(q.QueryText)) {
		term = strings.Trim(term, `"'()`)
		if len(term) < 2 {
			continue
		}
		if strings.Contains(hay, term) {
			return true
		}
	}
	return false
}

func keep(req Request, published *time.Time) bool {
	if req.Since.IsZero() || published == nil {
		return true
	}
	return !published.Before(req.Since)
}
