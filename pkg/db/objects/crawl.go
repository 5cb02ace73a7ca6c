package objects

import "time"

const (
	CrawlQueued    = "QUEUED"
	CrawlRunning   = "RUNNING"
	CrawlSucceeded = "SUCCEEDED"
	CrawlFailed    = "FAILED"
	CrawlPartial   = "PARTIAL"
)

const (
	FetchPending     = ""
	FetchSuccess     = "SUCCESS"
	FetchRateLimited = "RATE_LIMITED"
	FetchError       = "ERROR"
)

// CrawlJob 每天一次的抓取批次
type CrawlJob struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID   string `gorm:"size:36;not null;index" json:"run_id"`
	RunDate string `gorm:"size:10;not null;index" json:"run_date"`

	// 非 FAILED 时等于 run_date，FAILED 后置空，保证每天只有一个有效批次
	ActiveKey *string `gorm:"size:10;uniqueIndex:idx_crawl_active_key" json:"-"`

	Status        string `gorm:"size:16;not null;index" json:"status"`
	TopicsCount   int    `gorm:"not null" json:"topics_count"`
	SourcesCount  int    `gorm:"not null" json:"sources_count"`
	QueriesCount  int    `gorm:"not null" json:"queries_count"`
	FindingsCount int    `gorm:"not null" json:"findings_count"`
	Errors        string `gorm:"type:text" json:"errors"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	FetchLogs []FetchLog `gorm:"foreignKey:CrawlJobID;constraint:OnDelete:CASCADE" json:"fetch_logs,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CrawlJob) TableName() string {
	return "crawl_jobs"
}

// Terminal 是否已结束
func (j *CrawlJob) Terminal() bool {
	switch j.Status {
	case CrawlSucceeded, CrawlFailed, CrawlPartial:
		return true
	}
	return false
}

// FetchLog 一次抓取尝试，重试会产生新的记录
type FetchLog struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	CrawlJobID   uint64  `gorm:"not null;index" json:"crawl_job_id"`
	TopicID      *uint64 `gorm:"index" json:"topic_id"`
	TopicQueryID *uint64 `gorm:"index" json:"topic_query_id"`
	SourceID     *uint64 `gorm:"index" json:"source_id"`

	// 同一逻辑请求的所有重试共享同一签名
	RequestSignature string `gorm:"size:64;not null;index" json:"request_signature"`
	Attempt          int    `gorm:"not null" json:"attempt"`
	Status           string `gorm:"size:16;not null;index" json:"status"`
	ItemsFound       int    `gorm:"not null" json:"items_found"`
	NewItems         int    `gorm:"not null" json:"new_items"`

	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	ErrorDetail string     `gorm:"type:text" json:"error_detail"`
}

func (FetchLog) TableName() string {
	return "fetch_logs"
}
