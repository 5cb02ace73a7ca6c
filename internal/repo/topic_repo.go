package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/utils"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

const (
	DefaultTopicPriority = 100
	DefaultRecencyWindow = 30
	DefaultLangPref      = "en"
	DefaultQueryWeight   = 1.0
)

// TopicRepo 主题与检索语句
type TopicRepo struct {
	tm *transaction.Manager
}

func NewTopicRepo(tm *transaction.Manager) *TopicRepo { return &TopicRepo{tm: tm} }

// TopicPatch 为 nil 的字段不修改
type TopicPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Priority    *int    `json:"priority"`
	IsActive    *bool   `json:"is_active"`
}

// QueryPatch 为 nil 的字段不修改
type QueryPatch struct {
	QueryText     *string               `json:"query_text"`
	Filters       *objects.QueryFilters `json:"filters"`
	RecencyWindow *int                  `json:"recency_window"`
	LangPref      *string               `json:"lang_pref"`
	Weight        *float64              `json:"weight"`
	IsActive      *bool                 `json:"is_active"`
}

// CreateTopic 名称必填，slug 为空时由名称生成，Priority 为 0 时取默认值
func (r *TopicRepo) CreateTopic(ctx context.Context, t *objects.Topic) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errs.Validation("topic name is required")
	}
	if t.Slug == "" {
		t.Slug = utils.Slugify(t.Name)
	}
	if t.Slug == "" {
		return errs.Validation("topic slug is empty")
	}
	if t.Priority == 0 {
		t.Priority = DefaultTopicPriority
	}

	if err := r.tm.DB(ctx).Create(t).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return errs.Conflict(fmt.Sprintf("topic %q already exists", t.Name))
		}
		return errs.Wrap(xerr.DB_ERROR, "create topic", err)
	}
	return nil
}

func (r *TopicRepo) GetTopic(ctx context.Context, id uint64) (*objects.Topic, error) {
	var t objects.Topic
	err := r.tm.DB(ctx).Preload("Queries", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id")
	}).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("topic %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get topic", err)
	}
	return &t, nil
}

// ListTopics 按优先级排序，active 为 nil 时不过滤
func (r *TopicRepo) ListTopics(ctx context.Context, active *bool) ([]*objects.Topic, error) {
	q := r.tm.DB(ctx).Order("priority, id")
	if active != nil {
		q = q.Where("is_active = ?", *active)
	}
	var list []*objects.Topic
	if err := q.Find(&list).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list topics", err)
	}
	return list, nil
}

func (r *TopicRepo) UpdateTopic(ctx context.Context, id uint64, p TopicPatch) (*objects.Topic, error) {
	updates := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, errs.Validation("topic name is required")
		}
		updates["name"] = name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Priority != nil {
		updates["priority"] = *p.Priority
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if len(updates) > 0 {
		res := r.tm.DB(ctx).Model(&objects.Topic{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if db.IsDuplicateKey(res.Error) {
				return nil, errs.Conflict("topic name already exists")
			}
			return nil, errs.Wrap(xerr.DB_ERROR, "update topic", res.Error)
		}
	}
	return r.GetTopic(ctx, id)
}

// DeleteTopic 删除主题及其检索语句，已发现内容和抓取日志只解除关联
func (r *TopicRepo) DeleteTopic(ctx context.Context, id uint64) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		if _, err := r.GetTopic(ctx, id); err != nil {
			return err
		}

		queryIDs := tx.Model(&objects.TopicQuery{}).Select("id").Where("topic_id = ?", id)
		if err := tx.Model(&objects.DiscoveredContent{}).Where("topic_query_id IN (?)", queryIDs).Update("topic_query_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach contents", err)
		}
		if err := tx.Model(&objects.DiscoveredContent{}).Where("topic_id = ?", id).Update("topic_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach contents", err)
		}
		if err := tx.Model(&objects.FetchLog{}).Where("topic_query_id IN (?)", queryIDs).Update("topic_query_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach fetch logs", err)
		}
		if err := tx.Model(&objects.FetchLog{}).Where("topic_id = ?", id).Update("topic_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach fetch logs", err)
		}
		if err := tx.Exec("DELETE FROM post_candidate_topics WHERE topic_id = ?", id).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach candidates", err)
		}
		if err := tx.Where("topic_id = ?", id).Delete(&objects.TopicQuery{}).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete topic queries", err)
		}
		if err := tx.Delete(&objects.Topic{}, id).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete topic", err)
		}
		return nil
	})
}

// AddQuery 给主题添加检索语句，未填写的字段取默认值
func (r *TopicRepo) AddQuery(ctx context.Context, q *objects.TopicQuery) error {
	q.QueryText = strings.TrimSpace(q.QueryText)
	if q.QueryText == "" {
		return errs.Validation("query_text is required")
	}
	if err := validateFilters(q.Filters.Data()); err != nil {
		return err
	}
	if q.RecencyWindow <= 0 {
		q.RecencyWindow = DefaultRecencyWindow
	}
	if q.LangPref == "" {
		q.LangPref = DefaultLangPref
	}
	if q.Weight == 0 {
		q.Weight = DefaultQueryWeight
	}
	if _, err := r.GetTopic(ctx, q.TopicID); err != nil {
		return err
	}
	if err := r.tm.DB(ctx).Create(q).Error; err != nil {
		return errs.Wrap(xerr.DB_ERROR, "create topic query", err)
	}
	return nil
}

func (r *TopicRepo) GetQuery(ctx context.Context, id uint64) (*objects.TopicQuery, error) {
	var q objects.TopicQuery
	err := r.tm.DB(ctx).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("topic query %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get topic query", err)
	}
	return &q, nil
}

func (r *TopicRepo) UpdateQuery(ctx context.Context, id uint64, p QueryPatch) (*objects.TopicQuery, error) {
	updates := map[string]any{}
	if p.QueryText != nil {
		text := strings.TrimSpace(*p.QueryText)
		if text == "" {
			return nil, errs.Validation("query_text is required")
		}
		updates["query_text"] = text
	}
	if p.Filters != nil {
		if err := validateFilters(*p.Filters); err != nil {
			return nil, err
		}
		updates["filters"] = datatypes.NewJSONType(*p.Filters)
	}
	if p.RecencyWindow != nil {
		updates["recency_window"] = *p.RecencyWindow
	}
	if p.LangPref != nil {
		updates["lang_pref"] = *p.LangPref
	}
	if p.Weight != nil {
		updates["weight"] = *p.Weight
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if len(updates) > 0 {
		if err := r.tm.DB(ctx).Model(&objects.TopicQuery{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, errs.Wrap(xerr.DB_ERROR, "update topic query", err)
		}
	}
	return r.GetQuery(ctx, id)
}

// DeleteQuery 删除检索语句，引用它的内容与日志只解除关联
func (r *TopicRepo) DeleteQuery(ctx context.Context, id uint64) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		if _, err := r.GetQuery(ctx, id); err != nil {
			return err
		}
		if err := tx.Model(&objects.DiscoveredContent{}).Where("topic_query_id = ?", id).Update("topic_query_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach contents", err)
		}
		if err := tx.Model(&objects.FetchLog{}).Where("topic_query_id = ?", id).Update("topic_query_id", nil).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "detach fetch logs", err)
		}
		if err := tx.Delete(&objects.TopicQuery{}, id).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "delete topic query", err)
		}
		return nil
	})
}

// ActiveTopics 返回启用的主题及其启用的检索语句
func (r *TopicRepo) ActiveTopics(ctx context.Context) ([]*objects.Topic, error) {
	var list []*objects.Topic
	err := r.tm.DB(ctx).
		Preload("Queries", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("is_active = ?", true).Order("id")
		}).
		Where("is_active = ?", true).
		Order("priority, id").
		Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list active topics", err)
	}
	return list, nil
}

func validateFilters(f objects.QueryFilters) error {
	for _, t := range f.SourceTypes {
		if !objects.ValidSourceType(t) {
			return errs.Validation(fmt.Sprintf("unknown source type %q in filters", t))
		}
	}
	return nil
}
