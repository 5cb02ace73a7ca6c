package candidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// ErrNotEnriched 内容尚未富化，不能生成草稿
var ErrNotEnriched = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "content not enriched"}

type Generator struct {
	tm   *transaction.Manager
	lang string
	tone string
}

func NewGenerator(tm *transaction.Manager, lang, tone string) *Generator {
	if lang == "" {
		lang = "en"
	}
	if tone == "" {
		tone = "Professional"
	}
	return &Generator{tm: tm, lang: lang, tone: tone}
}

// Generate 为每个平台生成一条 DRAFT，已存在未被拒绝的同平台草稿时跳过
func (g *Generator) Generate(ctx context.Context, contentID uint64, platforms []string) ([]*objects.PostCandidate, error) {
	var content objects.DiscoveredContent
	err := g.tm.DB(ctx).Preload("Enrichment").First(&content, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("content %d not found", contentID))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "load content", err)
	}
	if content.Enrichment == nil {
		return nil, fmt.Errorf("content %d: %w", contentID, ErrNotEnriched)
	}

	var topic *objects.Topic
	if content.TopicID != nil {
		var t objects.Topic
		err := g.tm.DB(ctx).First(&t, *content.TopicID).Error
		if err == nil {
			topic = &t
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(xerr.DB_ERROR, "load topic", err)
		}
	}

	var created []*objects.PostCandidate
	err = g.tm.Execute(ctx, nil, func(ctx context.Context) error {
		for _, p := range platforms {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			var count int64
			err := g.tm.DB(ctx).Model(&objects.PostCandidate{}).
				Where("content_id = ? AND platform = ? AND status <> ?", contentID, p, objects.CandidateRejected).
				Count(&count).Error
			if err != nil {
				return errs.Wrap(xerr.DB_ERROR, "check existing candidate", err)
			}
			if count > 0 {
				continue
			}
			c := &objects.PostCandidate{
				ContentID: contentID,
				Platform:  p,
				Lang:      g.lang,
				Tone:      g.tone,
				BodyText:  ComposeBody(&content, p),
				Status:    objects.CandidateDraft,
				Meta:      datatypes.JSONMap{"generator": "template", "canonical_url": content.CanonicalURL},
			}
			if topic != nil {
				c.Topics = []objects.Topic{*topic}
			}
			if err := g.tm.DB(ctx).Omit("Topics.*").Create(c).Error; err != nil {
				return errs.Wrap(xerr.DB_ERROR, "create candidate", err)
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		logger.Info("📝 candidates generated", zap.Uint64("content_id", contentID), zap.Int("count", len(created)))
	}
	return created, nil
}

// ComposeBody 摘要 + 要点 + 链接 + 标签，超长时依次裁掉要点、标签，最后截断摘要
func ComposeBody(content *objects.DiscoveredContent, platform string) string {
	e := content.Enrichment
	limit := objects.PlatformLimit(platform)
	summary := strings.TrimSpace(e.Summary)
	link := content.CanonicalURL
	tags := strings.Join(e.Hashtags, " ")

	var points []string
	for _, kp := range e.KeyPoints {
		points = append(points, "• "+strings.TrimSpace(kp))
	}

	build := func(summary string, points []string, tags string) string {
		parts := []string{summary}
		if len(points) > 0 {
			parts = append(parts, strings.Join(points, "\n"))
		}
		if link != "" {
			parts = append(parts, link)
		}
		if tags != "" {
			parts = append(parts, tags)
		}
		return strings.Join(parts, "\n\n")
	}

	body := build(summary, points, tags)
	for len(points) > 0 && utf8.RuneCountInString(body) > limit {
		points = points[:len(points)-1]
		body = build(summary, points, tags)
	}
	if utf8.RuneCountInString(body) > limit {
		tags = ""
		body = build(summary, points, tags)
	}
	if over := utf8.RuneCountInString(body) - limit; over > 0 {
		r := []rune(summary)
		keep := len(r) - over - 1
		if keep < 0 {
			keep = 0
		}
		body = build(string(r[:keep])+"…", points, tags)
	}
	if utf8.RuneCountInString(body) > limit {
		body = string([]rune(body)[:limit])
	}
	return body
}
