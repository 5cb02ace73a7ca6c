package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// WebhookPublisher 把草稿 POST 到外部发布服务，由其负责真正发往社交平台
type WebhookPublisher struct {
	url    string
	client *http.Client
}

var _ candidate.Publisher = (*WebhookPublisher)(nil)

func NewWebhookPublisher(url string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookPublisher{url: url, client: &http.Client{Timeout: timeout}}
}

type publishRequest struct {
	CandidateID  uint64     `json:"candidate_id"`
	ContentID    uint64     `json:"content_id"`
	Platform     string     `json:"platform"`
	Lang         string     `json:"lang"`
	Tone         string     `json:"tone"`
	Body         string     `json:"body"`
	Link         string     `json:"link,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type publishResponse struct {
	ExternalPostID string `json:"external_post_id"`
	ID             string `json:"id"`
}

// Publish 429/5xx/网络错误为可重试，其余 4xx 与无效响应为永久失败
func (p *WebhookPublisher) Publish(ctx context.Context, c *objects.PostCandidate) (string, error) {
	if p.url == "" {
		return "", errs.Permanent("publish webhook", fmt.Errorf("webhook url not configured"))
	}
	payload := publishRequest{
		CandidateID:  c.ID,
		ContentID:    c.ContentID,
		Platform:     c.Platform,
		Lang:         c.Lang,
		Tone:         c.Tone,
		Body:         c.BodyText,
		ScheduledFor: c.IntendedPublishTime,
	}
	if c.Content != nil {
		payload.Link = c.Content.CanonicalURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Permanent("encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", errs.Permanent("new request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "candidate-"+strconv.FormatUint(c.ID, 10))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errs.Transient("do request", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return "", err
	}

	var out publishResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errs.Permanent("decode response", err)
	}
	id := out.ExternalPostID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", errs.Permanent("decode response", fmt.Errorf("response carries no post id"))
	}
	return id, nil
}

func classifyStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("webhook status %d: %s", code, truncate(string(body), 200))
	if code == http.StatusTooManyRequests || code >= 500 || code == http.StatusRequestTimeout {
		return errs.Transient("publish webhook", err)
	}
	return errs.Permanent("publish webhook", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// WebhookNotifier 状态变更通知，失败只记日志
type WebhookNotifier struct {
	url    string
	client *http.Client
}

var _ candidate.Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, e candidate.Event) {
	if n.url == "" {
		return
	}
	if err := n.send(ctx, e); err != nil {
		logger.Warn("🔔 status notification failed",
			zap.Uint64("candidate_id", e.CandidateID),
			zap.String("to", e.To),
			zap.Error(err))
	}
}

func (n *WebhookNotifier) send(ctx context.Context, e candidate.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify status: %s", resp.Status)
	}
	return nil
}
