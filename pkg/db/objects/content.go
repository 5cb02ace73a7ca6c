package objects

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContentTypeArticle = "ARTICLE"
	ContentTypeBlog    = "BLOG"
	ContentTypeDoc     = "DOC"
	ContentTypeRelease = "RELEASE"
	ContentTypeTweet   = "TWEET"
	ContentTypeVideo   = "VIDEO"
	ContentTypeOther   = "OTHER"
)

// DiscoveredContent 去重后的发现内容，以规范化 URL 为唯一键
type DiscoveredContent struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CanonicalURL string `gorm:"size:768;not null;uniqueIndex:idx_content_canonical_url" json:"canonical_url"`

	// sha256(canonical_url)，创建后不可修改
	UrlHash string `gorm:"size:64;not null;uniqueIndex:idx_content_url_hash" json:"url_hash"`

	Title       string     `gorm:"size:500" json:"title"`
	Excerpt     string     `gorm:"type:text" json:"excerpt"`
	PublishedAt *time.Time `gorm:"index" json:"published_at"`

	// 父记录删除后只解除关联
	SourceID     *uint64 `gorm:"index" json:"source_id"`
	TopicID      *uint64 `gorm:"index" json:"topic_id"`
	TopicQueryID *uint64 `gorm:"index" json:"topic_query_id"`

	Language       string            `gorm:"size:16" json:"language"`
	ContentType    string            `gorm:"size:16;not null" json:"content_type"`
	RelevanceScore float64           `gorm:"not null;index" json:"relevance_score"`
	QualityScore   float64           `gorm:"not null" json:"quality_score"`
	IsDuplicate    bool              `gorm:"not null;index" json:"is_duplicate"`
	RawPayload     datatypes.JSONMap `gorm:"type:text" json:"raw_payload"`

	Enrichment *ContentEnrichment `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"enrichment,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (DiscoveredContent) TableName() string {
	return "discovered_contents"
}

// ValidContentType 校验内容类型
func ValidContentType(t string) bool {
	switch t {
	case ContentTypeArticle, ContentTypeBlog, ContentTypeDoc, ContentTypeRelease,
		ContentTypeTweet, ContentTypeVideo, ContentTypeOther:
		return true
	}
	return false
}

// ContentEnrichment AI 对内容的加工结果，每条内容最多一条，写入后不可修改
type ContentEnrichment struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentID         uint64 `gorm:"not null;uniqueIndex:idx_enrichment_content" json:"content_id"`
	Summary           string `gorm:"type:text" json:"summary"`
	SimpleExplanation string `gorm:"type:text" json:"simple_explanation"`

	// 使用 GORM 的序列化功能，自动将 []string 转为 JSON 字符串存入数据库
	KeyPoints []string `gorm:"serializer:json;type:text" json:"key_points"`
	Hashtags  []string `gorm:"serializer:json;type:text" json:"hashtags"`

	// 阅读时长（分钟）
	ReadTime   *int              `json:"read_time"`
	Confidence *float64          `json:"confidence"`
	ModelMeta  datatypes.JSONMap `gorm:"type:text" json:"model_meta"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ContentEnrichment) TableName() string {
	return "content_enrichments"
}
