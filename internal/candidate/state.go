package candidate

import (
	"fmt"
	"strings"
	"time"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

var (
	ErrInvalidTransition  = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "invalid transition"}
	ErrModerationRequired = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "moderation required"}
	ErrInvalidSchedule    = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "invalid schedule"}
	ErrReasonRequired     = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "reason required"}
	ErrInvariant          = &errs.CodeMsg{Code: xerr.ErrInternalServer, Msg: "candidate invariant violated"}
)

// 状态迁移均为纯函数：输入当前值，返回新值或错误，不修改入参

func invalid(c objects.PostCandidate, to string) error {
	return fmt.Errorf("%s -> %s: %w", c.Status, to, ErrInvalidTransition)
}

// Approve DRAFT -> APPROVED，最新一条审核记录必须是 PASSED
func Approve(c objects.PostCandidate, latest *objects.ModerationLog) (objects.PostCandidate, error) {
	if c.Status != objects.CandidateDraft {
		return c, invalid(c, objects.CandidateApproved)
	}
	if latest == nil {
		return c, fmt.Errorf("no moderation log: %w", ErrModerationRequired)
	}
	if latest.Status != objects.ModerationPassed {
		return c, fmt.Errorf("latest moderation is %s: %w", latest.Status, ErrModerationRequired)
	}
	c.Status = objects.CandidateApproved
	return c, nil
}

// Schedule APPROVED -> SCHEDULED，发布时间必须晚于 now
func Schedule(c objects.PostCandidate, now time.Time) (objects.PostCandidate, error) {
	if c.Status != objects.CandidateApproved {
		return c, invalid(c, objects.CandidateScheduled)
	}
	if c.IntendedPublishTime == nil {
		return c, fmt.Errorf("intended_publish_time not set: %w", ErrInvalidSchedule)
	}
	if !c.IntendedPublishTime.After(now) {
		return c, fmt.Errorf("intended_publish_time %s is not in the future: %w",
			c.IntendedPublishTime.Format(time.RFC3339), ErrInvalidSchedule)
	}
	c.Status = objects.CandidateScheduled
	return c, nil
}

// CanPublish 只有 SCHEDULED 或 FAILED（重试）可以发布
func CanPublish(c objects.PostCandidate) error {
	if c.Status != objects.CandidateScheduled && c.Status != objects.CandidateFailed {
		return invalid(c, objects.CandidatePublished)
	}
	return nil
}

// Published SCHEDULED|FAILED -> PUBLISHED，记录外部帖子 ID
func Published(c objects.PostCandidate, externalID string, now time.Time) (objects.PostCandidate, error) {
	if err := CanPublish(c); err != nil {
		return c, err
	}
	if strings.TrimSpace(externalID) == "" {
		return c, errs.Validation("external post id is empty")
	}
	c.Status = objects.CandidatePublished
	c.ExternalPostID = externalID
	c.PublishedAt = &now
	c.PublishAttempts++
	c.FailureReason = ""
	c.FailurePermanent = false
	return c, nil
}

// Failed SCHEDULED|FAILED -> FAILED，保留失败原因和是否可重试
func Failed(c objects.PostCandidate, reason string, permanent bool) (objects.PostCandidate, error) {
	if c.Status != objects.CandidateScheduled && c.Status != objects.CandidateFailed {
		return c, invalid(c, objects.CandidateFailed)
	}
	c.Status = objects.CandidateFailed
	c.FailureReason = reason
	c.FailurePermanent = permanent
	c.PublishAttempts++
	return c, nil
}

// Reject 除 PUBLISHED 与 REJECTED 外任意状态 -> REJECTED，必须给出原因
func Reject(c objects.PostCandidate, reason string) (objects.PostCandidate, error) {
	if c.Status == objects.CandidatePublished || c.Status == objects.CandidateRejected {
		return c, invalid(c, objects.CandidateRejected)
	}
	if strings.TrimSpace(reason) == "" {
		return c, ErrReasonRequired
	}
	c.Status = objects.CandidateRejected
	return c, nil
}

// Reopen FAILED -> DRAFT，只能由人工触发，清空失败信息
func Reopen(c objects.PostCandidate) (objects.PostCandidate, error) {
	if c.Status != objects.CandidateFailed {
		return c, invalid(c, objects.CandidateDraft)
	}
	c.Status = objects.CandidateDraft
	c.FailureReason = ""
	c.FailurePermanent = false
	c.PublishAttempts = 0
	return c, nil
}

// CheckInvariant external_post_id 有值当且仅当状态为 PUBLISHED
func CheckInvariant(c objects.PostCandidate) error {
	published := c.Status == objects.CandidatePublished
	if published != (c.ExternalPostID != "") {
		return fmt.Errorf("candidate %d status=%s external_post_id=%q: %w", c.ID, c.Status, c.ExternalPostID, ErrInvariant)
	}
	return nil
}
