package conf

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iceymoss/go-discovery/pkg/config"
)

type Config struct {
	config.ServiceConfig `mapstructure:",squash"`

	Server     ServerConfig     `mapstructure:"server"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Jobs       []JobConfig      `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// CrawlConfig 每日抓取编排
type CrawlConfig struct {
	Timezone       string        `mapstructure:"timezone"`
	Cron           string        `mapstructure:"cron"`
	Concurrency    int           `mapstructure:"concurrency"`
	PerSourceRPS   float64       `mapstructure:"per_source_rps"`
	PerSourceBurst int           `mapstructure:"per_source_burst"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	MaxItems       int           `mapstructure:"max_items"`
	UserAgent      string        `mapstructure:"user_agent"`
	// Archive 原始结果归档: mongo / local / 空(关闭)
	Archive string `mapstructure:"archive"`
}

// LLMConfig OpenAI 兼容接口
type LLMConfig struct {
	ApiKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
}

type PublishConfig struct {
	WebhookURL  string        `mapstructure:"webhook_url"`
	NotifyURL   string        `mapstructure:"notify_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	// 失败后至少间隔多久才自动重试
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type ModerationConfig struct {
	DictPath         string   `mapstructure:"dict_path"`
	Words            []string `mapstructure:"words"`
	MaxHashtags      int      `mapstructure:"max_hashtags"`
	QualityThreshold float64  `mapstructure:"quality_threshold"`
}

// PipelineConfig 富化后生成草稿的参数
type PipelineConfig struct {
	Platforms    []string `mapstructure:"platforms"`
	MinRelevance float64  `mapstructure:"min_relevance"`
	EnrichBatch  int      `mapstructure:"enrich_batch"`
	Lang         string   `mapstructure:"lang"`
	Tone         string   `mapstructure:"tone"`
}

type JobConfig struct {
	Name   string                 `mapstructure:"name"`
	Cron   string                 `mapstructure:"cron"`
	Enable bool                   `mapstructure:"enable"`
	Params map[string]interface{} `mapstructure:"params"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/discovery.db")
	v.SetDefault("database.logLevel", "warn")

	v.SetDefault("crawl.timezone", "UTC")
	v.SetDefault("crawl.cron", "0 0 6 * * *")
	v.SetDefault("crawl.concurrency", 8)
	v.SetDefault("crawl.per_source_rps", 1.0)
	v.SetDefault("crawl.per_source_burst", 1)
	v.SetDefault("crawl.attempt_timeout", "30s")
	v.SetDefault("crawl.job_timeout", "50m")
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.backoff_base", "2s")
	v.SetDefault("crawl.backoff_max", "1m")
	v.SetDefault("crawl.stale_after", "2h")
	v.SetDefault("crawl.max_items", 50)
	v.SetDefault("crawl.user_agent", "go-discovery/1.0")

	v.SetDefault("llm.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_input_chars", 20000)

	v.SetDefault("publish.timeout", "15s")
	v.SetDefault("publish.max_attempts", 3)
	v.SetDefault("publish.lock_ttl", "30s")
	v.SetDefault("publish.retry_delay", "5m")

	v.SetDefault("moderation.max_hashtags", 5)
	v.SetDefault("moderation.quality_threshold", 0.5)

	v.SetDefault("pipeline.platforms", []string{"x", "linkedin"})
	v.SetDefault("pipeline.min_relevance", 0.2)
	v.SetDefault("pipeline.enrich_batch", 20)
	v.SetDefault("pipeline.lang", "en")
	v.SetDefault("pipeline.tone", "Professional")
}

// LoadConfig 加载配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv() // 自动读取环境变量

	// 允许环境变量替换 YAML 中的 ${VAR}
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// 显式展开环境变量
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.Contains(val, "${") {
			v.Set(key, os.ExpandEnv(val))
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 检查相互依赖的配置项
func (c *Config) Validate() error {
	// 发布持有候选锁期间会调用 webhook，锁过期前请求必须已经超时返回
	if c.Publish.LockTTL <= c.Publish.Timeout {
		return fmt.Errorf("publish.lock_ttl (%s) must be greater than publish.timeout (%s)",
			c.Publish.LockTTL, c.Publish.Timeout)
	}
	if c.Publish.RetryDelay < 0 {
		return fmt.Errorf("publish.retry_delay must not be negative, got %s", c.Publish.RetryDelay)
	}
	return nil
}
