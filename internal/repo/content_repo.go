package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// ContentRepo 已发现内容的查询与管理员删除
type ContentRepo struct {
	tm *transaction.Manager
}

func NewContentRepo(tm *transaction.Manager) *ContentRepo { return &ContentRepo{tm: tm} }

type ContentFilter struct {
	TopicID      uint64
	SourceID     uint64
	ContentType  string
	IsDuplicate  *bool
	Enriched     *bool
	MinRelevance float64
	Limit        int
	Offset       int
}

func (r *ContentRepo) GetContent(ctx context.Context, id uint64) (*objects.DiscoveredContent, error) {
	var c objects.DiscoveredContent
	err := r.tm.DB(ctx).Preload("Enrichment").First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("content %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get content", err)
	}
	return &c, nil
}

// ListContents 按发现时间倒序
func (r *ContentRepo) ListContents(ctx context.Context, f ContentFilter) ([]*objects.DiscoveredContent, error) {
	q := r.tm.DB(ctx).Model(&objects.DiscoveredContent{})
	if f.TopicID > 0 {
		q = q.Where("topic_id = ?", f.TopicID)
	}
	if f.SourceID > 0 {
		q = q.Where("source_id = ?", f.SourceID)
	}
	if f.ContentType != "" {
		q = q.Where("content_type = ?", f.ContentType)
	}
	if f.IsDuplicate != nil {
		q = q.Where("is_duplicate = ?", *f.IsDuplicate)
	}
	if f.MinRelevance > 0 {
		q = q.Where("relevance_score >= ?", f.MinRelevance)
	}
	if f.Enriched != nil {
		sub := r.tm.DB(ctx).Model(&objects.ContentEnrichment{}).Select("content_id")
		if *f.Enriched {
			q = q.Where("id IN (?)", sub)
		} else {
			q = q.Where("id NOT IN (?)", sub)
		}
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var list []*objects.DiscoveredContent
	err := q.Preload("Enrichment").Order("created_at DESC, id DESC").Limit(limit).Offset(f.Offset).Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list contents", err)
	}
	return list, nil
}

// DeleteContent 管理员删除，级联删除富化结果、草稿及其审核记录
func (r *ContentRepo) DeleteContent(ctx context.Context, id uint64) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		if _, err := r.GetContent(ctx, id); err != nil {
			return err
		}
		candidateIDs := tx.Model(&objects.PostCandidate{}).Select("id").Where("content_id = ?", id)
		if err := tx.Where("post_candidate_id IN (?)", candidateIDs).Delete(&objects.ModerationLog{}).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete moderation logs", err)
		}
		if err := tx.Exec("DELETE FROM post_candidate_topics WHERE post_candidate_id IN (?)", candidateIDs).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete candidate topics", err)
		}
		if err := tx.Where("content_id = ?", id).Delete(&objects.PostCandidate{}).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete candidates", err)
		}
		if err := tx.Where("content_id = ?", id).Delete(&objects.ContentEnrichment{}).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete enrichment", err)
		}
		if err := tx.Delete(&objects.DiscoveredContent{}, id).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete content", err)
		}
		return nil
	})
}
