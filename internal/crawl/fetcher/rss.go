package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

// RSSFetcher RSS/Atom/JSON Feed
type RSSFetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewRSSFetcher(client *http.Client, userAgent string) *RSSFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSFetcher{client: client, userAgent: userAgent, now: time.Now}
}

func (f *RSSFetcher) Fetch(ctx context.Context, req Request) ([]discovery.Item, error) {
	httpReq, err := newRequest(ctx, req.Source.FetchURL(), f.userAgent,
		"application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, Network(fmt.Errorf("request feed: %w", err))
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, f.now()); err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Network(ctx.Err())
		}
		return nil, Parse(fmt.Errorf("parse feed: %w", err))
	}

	var items []discovery.Item
	for _, it := range feed.Items {
		if it.Link == "" {
			continue
		}
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		if !keep(req, published) {
			continue
		}
		excerpt := it.Description
		if excerpt == "" {
			excerpt = it.Content
		}
		excerpt = plainText(excerpt)
		if !matchesQuery(req.Query, it.Title, excerpt, strings.Join(it.Categories, " ")) {
			continue
		}
		items = append(items, discovery.Item{
			URL:         it.Link,
			Title:       strings.TrimSpace(it.Title),
			Excerpt:     excerpt,
			PublishedAt: published,
			Language:    feedLanguage(feed),
			ContentType: objects.ContentTypeArticle,
			RawPayload: map[string]any{
				"feed_title": feed.Title,
				"guid":       it.GUID,
				"categories": it.Categories,
				"authors":    authorNames(it.Authors),
			},
		})
		if req.MaxItems > 0 && len(items) >= req.MaxItems {
			break
		}
	}
	return items, nil
}

func feedLanguage(feed *gofeed.Feed) string {
	lang := strings.ToLower(strings.TrimSpace(feed.Language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func authorNames(in []*gofeed.Person) []string {
	var out []string
	for _, p := range in {
		if p != nil && p.Name != "" {
			out = append(out, p.Name)
		}
	}
	return out
}
