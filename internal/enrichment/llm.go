package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const PromptVersion = "enrich-v1"

// LLMEnricher 通过 OpenAI 兼容接口（DeepSeek / OpenAI）生成富化结果
type LLMEnricher struct {
	llm         llms.Model
	model       string
	baseURL     string
	temperature float64
	timeout     time.Duration
	maxInput    int
	now         func() time.Time
}

// NewLLMEnricher 按配置初始化 openai 客户端
func NewLLMEnricher(cfg conf.LLMConfig) (*LLMEnricher, error) {
	if cfg.ApiKey == "" {
		return nil, fmt.Errorf("missing llm api_key")
	}
	llm, err := openai.New(
		openai.WithToken(cfg.ApiKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return NewLLMEnricherWithModel(llm, cfg), nil
}

// NewLLMEnricherWithModel 使用已有的 llms.Model
func NewLLMEnricherWithModel(llm llms.Model, cfg conf.LLMConfig) *LLMEnricher {
	e := &LLMEnricher{
		llm:         llm,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxInput:    cfg.MaxInputChars,
		now:         time.Now,
	}
	if e.maxInput <= 0 {
		e.maxInput = 20000
	}
	if e.timeout <= 0 {
		e.timeout = time.Minute
	}
	return e
}

// llmOutput 模型返回的 JSON
type llmOutput struct {
	Summary           string   `json:"summary"`
	SimpleExplanation string   `json:"simple_explanation"`
	KeyPoints         []string `json:"key_points"`
	Hashtags          []string `json:"hashtags"`
	ReadTime          *int     `json:"read_time"`
	Confidence        *float64 `json:"confidence"`
}

func (e *LLMEnricher) Enrich(ctx context.Context, content *objects.DiscoveredContent) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := buildPrompt(content, e.maxInput)
	raw, err := llms.GenerateFromSinglePrompt(ctx, e.llm, prompt, llms.WithTemperature(e.temperature))
	if err != nil {
		return Result{}, classifyLLMError(err)
	}

	out, err := parseOutput(raw)
	if err != nil {
		logger.Warn("⚠️ llm output parse failed", zap.Uint64("content_id", content.ID), zap.String("raw", truncate(raw, 500)))
		return Result{}, errs.Permanent("unparsable llm output", err)
	}

	return Result{
		Summary:           out.Summary,
		SimpleExplanation: out.SimpleExplanation,
		KeyPoints:         out.KeyPoints,
		Hashtags:          out.Hashtags,
		ReadTime:          out.ReadTime,
		Confidence:        out.Confidence,
		ModelMeta: map[string]any{
			"model":          e.model,
			"base_url":       e.baseURL,
			"temperature":    e.temperature,
			"prompt_version": PromptVersion,
			"generated_at":   e.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func buildPrompt(c *objects.DiscoveredContent, maxInput int) string {
	body := c.Excerpt
	if v, ok := c.RawPayload["content"].(string); ok && len(v) > len(body) {
		body = v
	}
	body = truncate(body, maxInput)

	return fmt.Sprintf(`You are a senior technical editor. Read the content below and return a JSON object.

Title: %s
URL: %s
Content:
%s

---
Requirements:
1. "summary": 2-4 sentences, concrete, no filler like "this article describes".
2. "simple_explanation": explain the core idea to a non-specialist in 1-2 sentences.
3. "key_points": 3-5 short bullet strings, most important first.
4. "hashtags": up to 5 hashtags relevant to the technology.
5. "read_time": estimated minutes to read the original, integer.
6. "confidence": number in [0,1], how confident you are in the summary.

Return strictly JSON: {"summary": "...", "simple_explanation": "...", "key_points": ["..."], "hashtags": ["#..."], "read_time": 5, "confidence": 0.8}
Do not wrap the JSON in Markdown.
`, c.Title, c.CanonicalURL, body)
}

// parseOutput 容忍 markdown 代码块以及 JSON 前后的多余文字
func parseOutput(raw string) (*llmOutput, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no json object in output")
	}

	var out llmOutput
	if err := json.Unmarshal([]byte(clean[start:end+1]), &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, fmt.Errorf("summary is empty")
	}
	return &out, nil
}

// classifyLLMError 4xx（429 除外）视为永久错误，其余按可重试处理
func classifyLLMError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"400", "401", "403", "404", "422"} {
		if strings.Contains(msg, "status code: "+code) || strings.Contains(msg, "status code "+code) {
			return errs.Permanent("llm request rejected", err)
		}
	}
	return errs.Transient("llm request failed", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
