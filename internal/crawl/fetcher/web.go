package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

const linkSelector = "article a[href], h1 a[href], h2 a[href], h3 a[href]"

// WebFetcher 解析 HTML 页面中的文章链接，找不到时把页面本身当作一条内容
type WebFetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewWebFetcher(client *http.Client, userAgent string) *WebFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebFetcher{client: client, userAgent: userAgent, now: time.Now}
}

func (f *WebFetcher) Fetch(ctx context.Context, req Request) ([]discovery.Item, error) {
	pageURL := req.Source.FetchURL()
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, Parse(fmt.Errorf("parse page url: %w", err))
	}
	httpReq, err := newRequest(ctx, pageURL, f.userAgent, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, Network(fmt.Errorf("request page: %w", err))
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, f.now()); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, Parse(fmt.Errorf("parse document: %w", err))
	}
	lang := strings.ToLower(strings.TrimSpace(doc.Find("html").AttrOr("lang", "")))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}

	seen := map[string]struct{}{}
	var items []discovery.Item
	doc.Find(linkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		title := strings.Join(strings.Fields(a.Text()), " ")
		if title == "" {
			return true
		}
		ref, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (ref.Scheme != "http" && ref.Scheme != "https") {
			return true
		}
		link := ref.String()
		if _, ok := seen[link]; ok {
			return true
		}
		seen[link] = struct{}{}

		excerpt := strings.Join(strings.Fields(a.Closest("article").Find("p").First().Text()), " ")
		if !matchesQuery(req.Query, title, excerpt) {
			return true
		}
		var published *time.Time
		if dt, ok := a.Closest("article").Find("time[datetime]").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				published = &t
			}
		}
		if !keep(req, published) {
			return true
		}
		items = append(items, discovery.Item{
			URL:         link,
			Title:       title,
			Excerpt:     excerpt,
			PublishedAt: published,
			Language:    lang,
			ContentType: objects.ContentTypeArticle,
			RawPayload:  map[string]any{"page": pageURL},
		})
		return req.MaxItems <= 0 || len(items) < req.MaxItems
	})
	if len(items) > 0 || len(seen) > 0 {
		return items, nil
	}

	// 单篇文章页
	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if desc == "" {
		desc = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}
	link := pageURL
	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
		if ref, err := base.Parse(canonical); err == nil {
			link = ref.String()
		}
	}
	if title == "" || !matchesQuery(req.Query, title, desc) {
		return nil, nil
	}
	return []discovery.Item{{
		URL:         link,
		Title:       title,
		Excerpt:     desc,
		Language:    lang,
		ContentType: objects.ContentTypeArticle,
		RawPayload:  map[string]any{"page": pageURL},
	}}, nil
}

// plainText 去掉 feed 描述里的 HTML 标签
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
