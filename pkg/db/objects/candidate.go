package objects

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CandidateDraft     = "DRAFT"
	CandidateApproved  = "APPROVED"
	CandidateScheduled = "SCHEDULED"
	CandidatePublished = "PUBLISHED"
	CandidateRejected  = "REJECTED"
	CandidateFailed    = "FAILED"
)

// PostCandidate 某个平台的待发布草稿
type PostCandidate struct {
	ID        uint64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentID uint64             `gorm:"not null;index" json:"content_id"`
	Content   *DiscoveredContent `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"content,omitempty"`
	Topics    []Topic            `gorm:"many2many:post_candidate_topics;constraint:OnDelete:CASCADE" json:"topics,omitempty"`

	Platform string `gorm:"size:32;not null;index" json:"platform"`
	Lang     string `gorm:"size:16;not null;default:en" json:"lang"`
	Tone     string `gorm:"size:32;not null;default:Professional" json:"tone"`
	BodyText string `gorm:"type:text" json:"body_text"`
	Status   string `gorm:"size:16;not null;index" json:"status"`

	IntendedPublishTime *time.Time `gorm:"index" json:"intended_publish_time"`

	// 仅在 PUBLISHED 状态下有值
	ExternalPostID string            `gorm:"size:128" json:"external_post_id"`
	Meta           datatypes.JSONMap `gorm:"type:text" json:"meta"`

	FailureReason    string     `gorm:"type:text" json:"failure_reason"`
	FailurePermanent bool       `gorm:"not null" json:"failure_permanent"`
	PublishAttempts  int        `gorm:"not null" json:"publish_attempts"`
	PublishedAt      *time.Time `json:"published_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PostCandidate) TableName() string {
	return "post_candidates"
}

const (
	ModerationPassed      = "PASSED"
	ModerationNeedsReview = "NEEDS_REVIEW"
	ModerationRejected    = "REJECTED"

	ReviewerAuto = "auto"
)

// ModerationLog 审核记录，只追加不修改
type ModerationLog struct {
	ID              uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	PostCandidateID uint64            `gorm:"not null;index" json:"post_candidate_id"`
	Candidate       *PostCandidate    `gorm:"foreignKey:PostCandidateID;constraint:OnDelete:CASCADE" json:"-"`
	Checks          datatypes.JSONMap `gorm:"type:text" json:"checks"`
	Status          string            `gorm:"size:16;not null;default:NEEDS_REVIEW" json:"status"`
	Notes           string            `gorm:"type:text" json:"notes"`
	Reviewer        string            `gorm:"size:64" json:"reviewer"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ModerationLog) TableName() string {
	return "moderation_logs"
}

// ValidModerationStatus 校验审核状态
func ValidModerationStatus(s string) bool {
	switch s {
	case ModerationPassed, ModerationNeedsReview, ModerationRejected:
		return true
	}
	return false
}
