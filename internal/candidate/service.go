package candidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/internal/moderation"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// ErrConcurrentUpdate 比较并更新失败，状态已被其它操作修改
var ErrConcurrentUpdate = &errs.CodeMsg{Code: xerr.ErrConflict, Msg: "candidate changed concurrently"}

// Publisher 目标平台的发布能力
type Publisher interface {
	Publish(ctx context.Context, c *objects.PostCandidate) (externalID string, err error)
}

// Event 状态变更通知
type Event struct {
	CandidateID    uint64    `json:"candidate_id"`
	ContentID      uint64    `json:"content_id"`
	Platform       string    `json:"platform"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	ExternalPostID string    `json:"external_post_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier 下游自动化触发器，尽力而为，失败不影响迁移结果
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type Filter struct {
	Status    string
	Platform  string
	ContentID uint64
	Limit     int
	Offset    int
}

type Service struct {
	tm        *transaction.Manager
	locker    Locker
	publisher Publisher
	notifier  Notifier
	now       func() time.Time
}

func NewService(tm *transaction.Manager, locker Locker, publisher Publisher, notifier Notifier) *Service {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{tm: tm, locker: locker, publisher: publisher, notifier: notifier, now: time.Now}
}

// Create 手工创建草稿，状态固定为 DRAFT
func (s *Service) Create(ctx context.Context, c *objects.PostCandidate) error {
	if strings.TrimSpace(c.Platform) == "" {
		return errs.Validation("platform is required")
	}
	c.Platform = strings.ToLower(c.Platform)
	c.Status = objects.CandidateDraft
	c.ExternalPostID = ""
	var count int64
	if err := s.tm.DB(ctx).Model(&objects.DiscoveredContent{}).Where("id = ?", c.ContentID).Count(&count).Error; err != nil {
		return errs.Wrap(xerr.DB_ERROR, "load content", err)
	}
	if count == 0 {
		return errs.NotFound(fmt.Sprintf("content %d not found", c.ContentID))
	}
	if err := s.tm.DB(ctx).Create(c).Error; err != nil {
		return errs.Wrap(xerr.DB_ERROR, "create candidate", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*objects.PostCandidate, error) {
	var c objects.PostCandidate
	err := s.tm.DB(ctx).Preload("Topics").Preload("Content").First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("candidate %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get candidate", err)
	}
	return &c, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*objects.PostCandidate, error) {
	q := s.tm.DB(ctx).Preload("Topics")
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToUpper(f.Status))
	}
	if f.Platform != "" {
		q = q.Where("platform = ?", strings.ToLower(f.Platform))
	}
	if f.ContentID > 0 {
		q = q.Where("content_id = ?", f.ContentID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []*objects.PostCandidate
	if err := q.Order("id DESC").Limit(limit).Offset(f.Offset).Find(&list).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list candidates", err)
	}
	return list, nil
}

// Approve DRAFT -> APPROVED
func (s *Service) Approve(ctx context.Context, id uint64) (*objects.PostCandidate, error) {
	return s.transition(ctx, id, func(ctx context.Context, c objects.PostCandidate) (objects.PostCandidate, error) {
		latest, err := moderation.LatestLog(s.tm.DB(ctx), c.ID)
		if err != nil {
			return c, err
		}
		return Approve(c, latest)
	}, "")
}

// Schedule APPROVED -> SCHEDULED
func (s *Service) Schedule(ctx context.Context, id uint64) (*objects.PostCandidate, error) {
	return s.transition(ctx, id, func(ctx context.Context, c objects.PostCandidate) (objects.PostCandidate, error) {
		return Schedule(c, s.now())
	}, "")
}

// Reject 拒绝并追加一条人工审核记录
func (s *Service) Reject(ctx context.Context, id uint64, reason, reviewer string) (*objects.PostCandidate, error) {
	if strings.TrimSpace(reviewer) == "" {
		reviewer = "operator"
	}
	return s.transition(ctx, id, func(ctx context.Context, c objects.PostCandidate) (objects.PostCandidate, error) {
		next, err := Reject(c, reason)
		if err != nil {
			return c, err
		}
		log := &objects.ModerationLog{
			PostCandidateID: c.ID,
			Checks:          datatypes.JSONMap{"manual": true},
			Status:          objects.ModerationRejected,
			Notes:           reason,
			Reviewer:        reviewer,
		}
		if err := s.tm.DB(ctx).Create(log).Error; err != nil {
			return c, errs.Wrap(xerr.DB_ERROR, "record rejection", err)
		}
		return next, nil
	}, reason)
}

// Reopen FAILED -> DRAFT
func (s *Service) Reopen(ctx context.Context, id uint64) (*objects.PostCandidate, error) {
	return s.transition(ctx, id, func(ctx context.Context, c objects.PostCandidate) (objects.PostCandidate, error) {
		return Reopen(c)
	}, "")
}

// SetPublishTime SCHEDULED 状态下只能改到未来时间
func (s *Service) SetPublishTime(ctx context.Context, id uint64, at *time.Time) (*objects.PostCandidate, error) {
	return s.update(ctx, id, func(ctx context.Context, c *objects.PostCandidate) (map[string]any, error) {
		switch c.Status {
		case objects.CandidateDraft, objects.CandidateApproved, objects.CandidateFailed:
		case objects.CandidateScheduled:
			if at == nil || !at.After(s.now()) {
				return nil, fmt.Errorf("scheduled candidate needs a future time: %w", ErrInvalidSchedule)
			}
		default:
			return nil, errs.Validation(fmt.Sprintf("cannot change publish time of a %s candidate", c.Status))
		}
		return map[string]any{"intended_publish_time": at}, nil
	})
}

// UpdateBody 只能修改草稿，修改后需要重新审核
func (s *Service) UpdateBody(ctx context.Context, id uint64, body string) (*objects.PostCandidate, error) {
	return s.update(ctx, id, func(ctx context.Context, c *objects.PostCandidate) (map[string]any, error) {
		if c.Status != objects.CandidateDraft {
			return nil, errs.Validation(fmt.Sprintf("cannot edit a %s candidate", c.Status))
		}
		log := &objects.ModerationLog{
			PostCandidateID: c.ID,
			Checks:          datatypes.JSONMap{"edited": true},
			Status:          objects.ModerationNeedsReview,
			Notes:           "body edited, moderation required",
			Reviewer:        "system",
		}
		if err := s.tm.DB(ctx).Create(log).Error; err != nil {
			return nil, errs.Wrap(xerr.DB_ERROR, "record edit", err)
		}
		return map[string]any{"body_text": body}, nil
	})
}

// Publish 调用发布方，成功 -> PUBLISHED，失败 -> FAILED 并返回发布错误
func (s *Service) Publish(ctx context.Context, id uint64) (*objects.PostCandidate, error) {
	if s.publisher == nil {
		return nil, errs.New(xerr.ErrInternalServer, "publisher not configured")
	}
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock candidate %d: %w", id, err)
	}
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanPublish(*cur); err != nil {
		return nil, err
	}

	externalID, pubErr := s.publisher.Publish(ctx, cur)
	var next objects.PostCandidate
	if pubErr == nil {
		next, err = Published(*cur, externalID, s.now())
	} else {
		next, err = Failed(*cur, pubErr.Error(), errs.IsPermanent(pubErr))
	}
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, cur, next); err != nil {
		return nil, err
	}
	s.emit(ctx, *cur, next, next.FailureReason)

	if pubErr != nil {
		logger.Warn("📮 publish failed",
			zap.Uint64("candidate_id", id),
			zap.Int("attempts", next.PublishAttempts),
			zap.Bool("permanent", next.FailurePermanent),
			zap.Error(pubErr))
		if !errs.IsPermanent(pubErr) && !errs.IsTransient(pubErr) {
			pubErr = errs.Transient("publish failed", pubErr)
		}
		return &next, pubErr
	}
	logger.Info("📮 candidate published", zap.Uint64("candidate_id", id), zap.String("external_post_id", externalID))
	return &next, nil
}

// Due 到期待发布的 SCHEDULED 候选
func (s *Service) Due(ctx context.Context, now time.Time, limit int) ([]*objects.PostCandidate, error) {
	var list []*objects.PostCandidate
	err := s.tm.DB(ctx).
		Where("status = ? AND intended_publish_time <= ?", objects.CandidateScheduled, now).
		Order("intended_publish_time, id").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list due candidates", err)
	}
	return list, nil
}

// Retryable 可自动重试的失败候选，只返回 before 之前失败的
func (s *Service) Retryable(ctx context.Context, maxAttempts int, before time.Time, limit int) ([]*objects.PostCandidate, error) {
	var list []*objects.PostCandidate
	err := s.tm.DB(ctx).
		Where("status = ? AND failure_permanent = ? AND publish_attempts < ? AND updated_at <= ?",
			objects.CandidateFailed, false, maxAttempts, before).
		Order("updated_at, id").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list retryable candidates", err)
	}
	return list, nil
}

type transitionFunc func(ctx context.Context, c objects.PostCandidate) (objects.PostCandidate, error)

// transition 加锁后在事务内读取、迁移、按旧状态比较并更新，提交后发通知
func (s *Service) transition(ctx context.Context, id uint64, fn transitionFunc, reason string) (*objects.PostCandidate, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock candidate %d: %w", id, err)
	}
	defer unlock()

	var before, after objects.PostCandidate
	err = s.tm.Execute(ctx, nil, func(ctx context.Context) error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		next, err := fn(ctx, *cur)
		if err != nil {
			return err
		}
		if err := s.persist(ctx, cur, next); err != nil {
			return err
		}
		before, after = *cur, next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, before, after, reason)
	return &after, nil
}

// update 不改变状态的字段修改，同样串行化
func (s *Service) update(ctx context.Context, id uint64, fn func(ctx context.Context, c *objects.PostCandidate) (map[string]any, error)) (*objects.PostCandidate, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock candidate %d: %w", id, err)
	}
	defer unlock()

	var out *objects.PostCandidate
	err = s.tm.Execute(ctx, nil, func(ctx context.Context) error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		updates, err := fn(ctx, cur)
		if err != nil {
			return err
		}
		res := s.tm.DB(ctx).Model(&objects.PostCandidate{}).
			Where("id = ? AND status = ?", id, cur.Status).
			Updates(updates)
		if res.Error != nil {
			return errs.Wrap(xerr.DB_ERROR, "update candidate", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		out, err = s.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, cur *objects.PostCandidate, next objects.PostCandidate) error {
	if err := CheckInvariant(next); err != nil {
		return err
	}
	res := s.tm.DB(ctx).Model(&objects.PostCandidate{}).
		Where("id = ? AND status = ?", cur.ID, cur.Status).
		Updates(map[string]any{
			"status":                next.Status,
			"intended_publish_time": next.IntendedPublishTime,
			"external_post_id":      next.ExternalPostID,
			"failure_reason":        next.FailureReason,
			"failure_permanent":     next.FailurePermanent,
			"publish_attempts":      next.PublishAttempts,
			"published_at":          next.PublishedAt,
		})
	if res.Error != nil {
		return errs.Wrap(xerr.DB_ERROR, "persist candidate", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (s *Service) emit(ctx context.Context, before, after objects.PostCandidate, reason string) {
	if before.Status == after.Status && after.Status != objects.CandidateFailed {
		return
	}
	s.notifier.Notify(ctx, Event{
		CandidateID:    after.ID,
		ContentID:      after.ContentID,
		Platform:       after.Platform,
		From:           before.Status,
		To:             after.Status,
		ExternalPostID: after.ExternalPostID,
		Reason:         reason,
		At:             s.now(),
	})
}

func lockKey(id uint64) string {
	return fmt.Sprintf("candidate:%d", id)
}
