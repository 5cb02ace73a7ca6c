package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

const maxTitleRunes = 500

// Item 抓取到的一条原始内容
type Item struct {
	URL         string
	Title       string
	Excerpt     string
	PublishedAt *time.Time
	Language    string
	ContentType string
	RawPayload  map[string]any
}

// Scope 发现这条内容时所处的主题、检索语句和来源，均可为空
type Scope struct {
	Topic  *objects.Topic
	Query  *objects.TopicQuery
	Source *objects.ContentSource
}

func (s Scope) topicID() *uint64 {
	if s.Topic == nil {
		return nil
	}
	id := s.Topic.ID
	return &id
}

func (s Scope) queryID() *uint64 {
	if s.Query == nil {
		return nil
	}
	id := s.Query.ID
	return &id
}

func (s Scope) sourceID() *uint64 {
	if s.Source == nil {
		return nil
	}
	id := s.Source.ID
	return &id
}

// Outcome Discover 的结果
type Outcome struct {
	Content *objects.DiscoveredContent
	// Created 本次插入了新记录
	Created bool
	// MarkedDuplicate 本次把已有记录标记为重复
	MarkedDuplicate bool
}

// Discoverer 按规范化 URL 去重入库
type Discoverer struct {
	tm     *transaction.Manager
	scorer Scorer
}

func NewDiscoverer(tm *transaction.Manager, scorer Scorer) *Discoverer {
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &Discoverer{tm: tm, scorer: scorer}
}

// Discover 新 URL 插入 is_duplicate=false 的记录；已存在时不插入，
// 仅当来源或检索语句与首次发现不同时把已有记录标记为重复
//
// 唯一约束是唯一的同步点，并发发现同一 URL 时只有一个插入成功
func (d *Discoverer) Discover(ctx context.Context, item Item, scope Scope) (Outcome, error) {
	canonical, err := Canonicalize(item.URL)
	if err != nil {
		return Outcome{}, err
	}

	relevance, quality, err := d.scorer.Score(ctx, item, scope)
	if err != nil {
		return Outcome{}, fmt.Errorf("score %s: %w", canonical, err)
	}

	row := &objects.DiscoveredContent{
		CanonicalURL:   canonical,
		UrlHash:        URLHash(canonical),
		Title:          truncateRunes(strings.TrimSpace(item.Title), maxTitleRunes),
		Excerpt:        strings.TrimSpace(item.Excerpt),
		PublishedAt:    item.PublishedAt,
		SourceID:       scope.sourceID(),
		TopicID:        scope.topicID(),
		TopicQueryID:   scope.queryID(),
		Language:       item.Language,
		ContentType:    normalizeContentType(item.ContentType),
		RelevanceScore: clamp01(relevance),
		QualityScore:   clamp01(quality),
		IsDuplicate:    false,
		RawPayload:     datatypes.JSONMap(item.RawPayload),
	}
	if row.Language == "" && scope.Query != nil {
		row.Language = scope.Query.LangPref
	}

	conn := d.tm.DB(ctx)
	res := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil && !db.IsDuplicateKey(res.Error) {
		return Outcome{}, errs.Wrap(xerr.DB_ERROR, "insert discovered content", res.Error)
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return Outcome{Content: row, Created: true}, nil
	}

	return d.observeExisting(ctx, row)
}

// observeExisting 已存在的 URL：首次发现优先，字段不被替换
func (d *Discoverer) observeExisting(ctx context.Context, observed *objects.DiscoveredContent) (Outcome, error) {
	conn := d.tm.DB(ctx)

	var existing objects.DiscoveredContent
	err := conn.Where("url_hash = ?", observed.UrlHash).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, errs.Transient("discovered content vanished after conflict", err)
	}
	if err != nil {
		return Outcome{}, errs.Wrap(xerr.DB_ERROR, "load discovered content", err)
	}

	out := Outcome{Content: &existing}
	if existing.IsDuplicate || !differentOrigin(&existing, observed) {
		return out, nil
	}

	res := conn.Model(&objects.DiscoveredContent{}).
		Where("id = ? AND is_duplicate = ?", existing.ID, false).
		Update("is_duplicate", true)
	if res.Error != nil {
		return Outcome{}, errs.Wrap(xerr.DB_ERROR, "mark duplicate", res.Error)
	}
	existing.IsDuplicate = true
	out.MarkedDuplicate = res.RowsAffected > 0
	if out.MarkedDuplicate {
		logger.Debug("content seen from another origin",
			zap.Uint64("content_id", existing.ID),
			zap.String("url", existing.CanonicalURL))
	}
	return out, nil
}

func differentOrigin(existing, observed *objects.DiscoveredContent) bool {
	return !sameRef(existing.SourceID, observed.SourceID) || !sameRef(existing.TopicQueryID, observed.TopicQueryID)
}

func sameRef(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func normalizeContentType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return objects.ContentTypeArticle
	}
	if !objects.ValidContentType(t) {
		return objects.ContentTypeOther
	}
	return t
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
