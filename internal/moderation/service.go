package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

type Service struct {
	tm        *transaction.Manager
	moderator *Moderator
}

func NewService(tm *transaction.Manager, moderator *Moderator) *Service {
	return &Service{tm: tm, moderator: moderator}
}

// Moderate 自动审核并追加一条 reviewer=auto 的记录
func (s *Service) Moderate(ctx context.Context, candidateID uint64) (*objects.ModerationLog, error) {
	var c objects.PostCandidate
	err := s.tm.DB(ctx).Preload("Content").First(&c, candidateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("candidate %d not found", candidateID))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "load candidate", err)
	}
	if c.Status == objects.CandidatePublished || c.Status == objects.CandidateRejected {
		return nil, errs.Validation(fmt.Sprintf("candidate %d is %s", candidateID, c.Status))
	}

	res := s.moderator.Check(&c, c.Content)
	log := &objects.ModerationLog{
		PostCandidateID: candidateID,
		Checks:          datatypes.JSONMap(res.Checks),
		Status:          res.Status,
		Notes:           res.Notes,
		Reviewer:        objects.ReviewerAuto,
	}
	if err := s.tm.DB(ctx).Create(log).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "create moderation log", err)
	}

	logger.Info("🛡️ candidate moderated",
		zap.Uint64("candidate_id", candidateID),
		zap.String("status", res.Status),
		zap.String("notes", res.Notes))
	return log, nil
}

// Review 人工审核，同样只追加记录
func (s *Service) Review(ctx context.Context, candidateID uint64, status, notes, reviewer string) (*objects.ModerationLog, error) {
	if !objects.ValidModerationStatus(status) {
		return nil, errs.Validation(fmt.Sprintf("invalid moderation status %q", status))
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" || reviewer == objects.ReviewerAuto {
		return nil, errs.Validation("reviewer is required")
	}
	var count int64
	if err := s.tm.DB(ctx).Model(&objects.PostCandidate{}).Where("id = ?", candidateID).Count(&count).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "load candidate", err)
	}
	if count == 0 {
		return nil, errs.NotFound(fmt.Sprintf("candidate %d not found", candidateID))
	}

	log := &objects.ModerationLog{
		PostCandidateID: candidateID,
		Checks:          datatypes.JSONMap{"manual": true},
		Status:          status,
		Notes:           notes,
		Reviewer:        reviewer,
	}
	if err := s.tm.DB(ctx).Create(log).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "create moderation log", err)
	}
	return log, nil
}

// Latest 最新一条审核记录决定候选能否通过
func (s *Service) Latest(ctx context.Context, candidateID uint64) (*objects.ModerationLog, error) {
	log, err := LatestLog(s.tm.DB(ctx), candidateID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errs.NotFound(fmt.Sprintf("no moderation log for candidate %d", candidateID))
	}
	return log, nil
}

// Logs 按时间正序返回全部审核记录
func (s *Service) Logs(ctx context.Context, candidateID uint64) ([]*objects.ModerationLog, error) {
	var list []*objects.ModerationLog
	err := s.tm.DB(ctx).Where("post_candidate_id = ?", candidateID).Order("created_at, id").Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list moderation logs", err)
	}
	return list, nil
}

// LatestLog 按 created_at、id 取最新一条，没有记录时返回 nil, nil
func LatestLog(conn *gorm.DB, candidateID uint64) (*objects.ModerationLog, error) {
	var log objects.ModerationLog
	err := conn.Where("post_candidate_id = ?", candidateID).Order("created_at DESC, id DESC").First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "latest moderation log", err)
	}
	return &log, nil
}
