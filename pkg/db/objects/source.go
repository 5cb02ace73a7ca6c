package objects

import "time"

const (
	SourceTypeRSS    = "RSS"
	SourceTypeWEB    = "WEB"
	SourceTypeAPI    = "API"
	SourceTypeSOCIAL = "SOCIAL"
)

// ContentSource 内容来源
type ContentSource struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string  `gorm:"size:200;not null" json:"name"`
	SourceType string  `gorm:"size:16;not null;index" json:"source_type"`
	BaseURL    string  `gorm:"size:512;not null" json:"base_url"`
	FeedURL    *string `gorm:"size:512" json:"feed_url"`

	// 可信度 [0,1]
	ReliabilityScore float64 `gorm:"not null" json:"reliability_score"`
	IsActive         bool    `gorm:"not null;index" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ContentSource) TableName() string {
	return "content_sources"
}

// FetchURL 优先使用 feed 地址
func (s *ContentSource) FetchURL() string {
	if s.FeedURL != nil && *s.FeedURL != "" {
		return *s.FeedURL
	}
	return s.BaseURL
}

// ValidSourceType 校验来源类型
func ValidSourceType(t string) bool {
	switch t {
	case SourceTypeRSS, SourceTypeWEB, SourceTypeAPI, SourceTypeSOCIAL:
		return true
	}
	return false
}
