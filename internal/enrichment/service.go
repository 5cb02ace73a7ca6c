package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// ErrAlreadyEnriched 内容已有富化结果
var ErrAlreadyEnriched = &errs.CodeMsg{Code: xerr.ErrConflict, Msg: "content already enriched"}

// ErrNoEnricher 未配置模型，稍后配置后可重试
var ErrNoEnricher = &errs.CodeMsg{Code: xerr.ErrTransient, Msg: "enricher not configured"}

// Result 富化器的输出
type Result struct {
	Summary           string
	SimpleExplanation string
	KeyPoints         []string
	Hashtags          []string
	ReadTime          *int
	Confidence        *float64
	ModelMeta         map[string]any
}

// Enricher 外部的生成式能力，错误需区分 Transient / Permanent
type Enricher interface {
	Enrich(ctx context.Context, content *objects.DiscoveredContent) (Result, error)
}

type Service struct {
	tm       *transaction.Manager
	enricher Enricher
}

func NewService(tm *transaction.Manager, enricher Enricher) *Service {
	return &Service{tm: tm, enricher: enricher}
}

// Enrich 为内容创建唯一的富化记录，已存在时返回 ErrAlreadyEnriched，不修改已有记录
func (s *Service) Enrich(ctx context.Context, contentID uint64) (*objects.ContentEnrichment, error) {
	content, err := s.loadContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.Get(ctx, contentID); err == nil && existing != nil {
		return nil, fmt.Errorf("content %d: %w", contentID, ErrAlreadyEnriched)
	} else if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}

	result, err := s.generate(ctx, content)
	if err != nil {
		return nil, err
	}
	row, err := newRecord(contentID, result)
	if err != nil {
		return nil, err
	}

	// 并发富化同一内容时由唯一约束兜底
	if err := s.tm.DB(ctx).Create(row).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return nil, fmt.Errorf("content %d: %w", contentID, ErrAlreadyEnriched)
		}
		return nil, errs.Wrap(xerr.DB_ERROR, "create enrichment", err)
	}

	logger.Info("✨ content enriched", zap.Uint64("content_id", contentID), zap.Int("key_points", len(row.KeyPoints)))
	return row, nil
}

// Supersede 重新生成富化结果：同一事务内删除旧记录并写入新记录
func (s *Service) Supersede(ctx context.Context, contentID uint64) (*objects.ContentEnrichment, error) {
	content, err := s.loadContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	result, err := s.generate(ctx, content)
	if err != nil {
		return nil, err
	}
	row, err := newRecord(contentID, result)
	if err != nil {
		return nil, err
	}

	err = s.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := s.tm.DB(ctx)
		if err := tx.Where("content_id = ?", contentID).Delete(&objects.ContentEnrichment{}).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete old enrichment", err)
		}
		if err := tx.Create(row).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "create enrichment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Get 内容的富化记录
func (s *Service) Get(ctx context.Context, contentID uint64) (*objects.ContentEnrichment, error) {
	var row objects.ContentEnrichment
	err := s.tm.DB(ctx).Where("content_id = ?", contentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("enrichment for content %d not found", contentID))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get enrichment", err)
	}
	return &row, nil
}

// Pending 尚未富化的非重复内容，相关度高的在前
func (s *Service) Pending(ctx context.Context, minRelevance float64, limit int) ([]*objects.DiscoveredContent, error) {
	if limit <= 0 {
		limit = 20
	}
	conn := s.tm.DB(ctx)
	enriched := conn.Model(&objects.ContentEnrichment{}).Select("content_id")

	var list []*objects.DiscoveredContent
	err := conn.
		Where("is_duplicate = ? AND relevance_score >= ?", false, minRelevance).
		Where("id NOT IN (?)", enriched).
		Order("relevance_score DESC, quality_score DESC, id").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list pending contents", err)
	}
	return list, nil
}

func (s *Service) generate(ctx context.Context, content *objects.DiscoveredContent) (Result, error) {
	if s.enricher == nil {
		return Result{}, ErrNoEnricher
	}
	result, err := s.enricher.Enrich(ctx, content)
	if err != nil {
		return Result{}, fmt.Errorf("enrich content %d: %w", content.ID, err)
	}
	return result, nil
}

func (s *Service) loadContent(ctx context.Context, contentID uint64) (*objects.DiscoveredContent, error) {
	var content objects.DiscoveredContent
	err := s.tm.DB(ctx).First(&content, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("content %d not found", contentID))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "load content", err)
	}
	return &content, nil
}

func newRecord(contentID uint64, r Result) (*objects.ContentEnrichment, error) {
	if strings.TrimSpace(r.Summary) == "" {
		return nil, errs.Permanent("enricher returned an empty summary", nil)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return nil, errs.Permanent(fmt.Sprintf("confidence %v out of range", *r.Confidence), nil)
	}
	if r.ReadTime != nil && *r.ReadTime < 0 {
		return nil, errs.Permanent("negative read time", nil)
	}
	return &objects.ContentEnrichment{
		ContentID:         contentID,
		Summary:           strings.TrimSpace(r.Summary),
		SimpleExplanation: strings.TrimSpace(r.SimpleExplanation),
		KeyPoints:         nonEmpty(r.KeyPoints),
		Hashtags:          NormalizeHashtags(r.Hashtags),
		ReadTime:          r.ReadTime,
		Confidence:        r.Confidence,
		ModelMeta:         datatypes.JSONMap(r.ModelMeta),
	}, nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeHashtags 补齐 '#'，去掉空白与重复
func NormalizeHashtags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		tag = strings.Join(strings.Fields(tag), "")
		tag = strings.TrimLeft(tag, "#")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, "#"+tag)
	}
	return out
}
