package repo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

const DefaultReliability = 0.8

// SourceRepo 内容来源
type SourceRepo struct {
	tm *transaction.Manager
}

func NewSourceRepo(tm *transaction.Manager) *SourceRepo { return &SourceRepo{tm: tm} }

type SourceFilter struct {
	SourceType string
	Active     *bool
}

type SourcePatch struct {
	Name             *string  `json:"name"`
	BaseURL          *string  `json:"base_url"`
	FeedURL          *string  `json:"feed_url"`
	ReliabilityScore *float64 `json:"reliability_score"`
	IsActive         *bool    `json:"is_active"`
}

// CreateSource ReliabilityScore 为 0 时取默认值 0.8
func (r *SourceRepo) CreateSource(ctx context.Context, s *objects.ContentSource) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return errs.Validation("source name is required")
	}
	s.SourceType = strings.ToUpper(s.SourceType)
	if !objects.ValidSourceType(s.SourceType) {
		return errs.Validation(fmt.Sprintf("unknown source type %q", s.SourceType))
	}
	if err := validateHTTPURL("base_url", s.BaseURL); err != nil {
		return err
	}
	if s.FeedURL != nil {
		if *s.FeedURL == "" {
			s.FeedURL = nil
		} else if err := validateHTTPURL("feed_url", *s.FeedURL); err != nil {
			return err
		}
	}
	if s.ReliabilityScore == 0 {
		s.ReliabilityScore = DefaultReliability
	}
	if s.ReliabilityScore < 0 || s.ReliabilityScore > 1 {
		return errs.Validation("reliability_score must be within [0,1]")
	}

	if err := r.tm.DB(ctx).Create(s).Error; err != nil {
		return errs.Wrap(xerr.DB_ERROR, "create source", err)
	}
	return nil
}

func (r *SourceRepo) GetSource(ctx context.Context, id uint64) (*objects.ContentSource, error) {
	var s objects.ContentSource
	err := r.tm.DB(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("source %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get source", err)
	}
	return &s, nil
}

func (r *SourceRepo) ListSources(ctx context.Context, f SourceFilter) ([]*objects.ContentSource, error) {
	q := r.tm.DB(ctx).Order("id")
	if f.SourceType != "" {
		q = q.Where("source_type = ?", strings.ToUpper(f.SourceType))
	}
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	var list []*objects.ContentSource
	if err := q.Find(&list).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list sources", err)
	}
	return list, nil
}

func (r *SourceRepo) UpdateSource(ctx context.Context, id uint64, p SourcePatch) (*objects.ContentSource, error) {
	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = strings.TrimSpace(*p.Name)
	}
	if p.BaseURL != nil {
		if err := validateHTTPURL("base_url", *p.BaseURL); err != nil {
			return nil, err
		}
		updates["base_url"] = *p.BaseURL
	}
	if p.FeedURL != nil {
		if *p.FeedURL == "" {
			updates["feed_url"] = nil
		} else {
			if err := validateHTTPURL("feed_url", *p.FeedURL); err != nil {
				return nil, err
			}
			updates["feed_url"] = *p.FeedURL
		}
	}
	if p.ReliabilityScore != nil {
		if *p.ReliabilityScore < 0 || *p.ReliabilityScore > 1 {
			return nil, errs.Validation("reliability_score must be within [0,1]")
		}
		updates["reliability_score"] = *p.ReliabilityScore
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if len(updates) > 0 {
		if err := r.tm.DB(ctx).Model(&objects.ContentSource{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, errs.Wrap(xerr.DB_ERROR, "update source", err)
		}
	}
	return r.GetSource(ctx, id)
}

// DeleteSource 删除来源，已发现内容和抓取日志只解除关联
func (r *SourceRepo) DeleteSource(ctx context.Context, id uint64) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		if _, err := r.GetSource(ctx, id); err != nil {
			return err
		}
		if err := tx.Model(&objects.DiscoveredContent{}).Where("source_id = ?", id).Update("source_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach contents", err)
		}
		if err := tx.Model(&objects.FetchLog{}).Where("source_id = ?", id).Update("source_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach fetch logs", err)
		}
		if err := tx.Delete(&objects.ContentSource{}, id).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete source", err)
		}
		return nil
	})
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.Validation(fmt.Sprintf("%s must be an absolute http(s) url", field))
	}
	return nil
}
