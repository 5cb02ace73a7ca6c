package objects

import (
	"time"

	"gorm.io/datatypes"
)

// Topic 运营关注的主题
type Topic struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"size:200;not null;uniqueIndex:idx_topic_name" json:"name"`
	Slug        string `gorm:"size:200;not null;uniqueIndex:idx_topic_slug" json:"slug"`
	Description string `gorm:"type:text" json:"description"`

	// 数值越小优先级越高
	Priority int  `gorm:"not null;index" json:"priority"`
	IsActive bool `gorm:"not null;index" json:"is_active"`

	Queries []TopicQuery `gorm:"foreignKey:TopicID;constraint:OnDelete:CASCADE" json:"queries,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Topic) TableName() string {
	return "topics"
}

// QueryFilters 查询过滤条件，限定抓取的来源
type QueryFilters struct {
	SourceTypes []string `json:"source_types,omitempty"`
	SourceIDs   []uint64 `json:"source_ids,omitempty"`
}

// Empty 没有任何过滤条件
func (f QueryFilters) Empty() bool {
	return len(f.SourceTypes) == 0 && len(f.SourceIDs) == 0
}

// TopicQuery 主题下的一条检索语句
type TopicQuery struct {
	ID        uint64                           `gorm:"primaryKey;autoIncrement" json:"id"`
	TopicID   uint64                           `gorm:"not null;index" json:"topic_id"`
	QueryText string                           `gorm:"size:500;not null" json:"query_text"`
	Filters   datatypes.JSONType[QueryFilters] `gorm:"type:text" json:"filters"`

	// 只关注最近 N 天的内容
	RecencyWindow int     `gorm:"not null" json:"recency_window"`
	LangPref      string  `gorm:"size:16;not null;default:en" json:"lang_pref"`
	Weight        float64 `gorm:"not null" json:"weight"`
	IsActive      bool    `gorm:"not null;index" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TopicQuery) TableName() string {
	return "topic_queries"
}
