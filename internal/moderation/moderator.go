package moderation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	"github.com/iceymoss/go-discovery/pkg/sensitive"
)

const (
	CheckNotEmpty       = "not_empty"
	CheckLengthOK       = "length_ok"
	CheckSensitiveOK    = "sensitive_ok"
	CheckSensitiveWords = "sensitive_words"
	CheckHashtagsOK     = "hashtags_ok"
	CheckQuality        = "quality"
	CheckQualityOK      = "quality_ok"
	CheckHasLink        = "has_link"
)

var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// Result 一次审核的结果
type Result struct {
	Checks map[string]any
	Status string
	Notes  string
}

// Moderator 自动审核规则
type Moderator struct {
	words            *sensitive.Word
	maxHashtags      int
	qualityThreshold float64
}

// NewModerator words 为 nil 时跳过敏感词检查
func NewModerator(words *sensitive.Word, cfg conf.ModerationConfig) *Moderator {
	m := &Moderator{
		words:            words,
		maxHashtags:      cfg.MaxHashtags,
		qualityThreshold: cfg.QualityThreshold,
	}
	if m.maxHashtags <= 0 {
		m.maxHashtags = 5
	}
	return m
}

// Check 空正文或命中敏感词直接拒绝；其余检查未通过时需要人工复核
func (m *Moderator) Check(c *objects.PostCandidate, content *objects.DiscoveredContent) Result {
	body := strings.TrimSpace(c.BodyText)
	checks := make(map[string]any)
	var notes []string

	notEmpty := body != ""
	checks[CheckNotEmpty] = notEmpty
	if !notEmpty {
		notes = append(notes, "body is empty")
	}

	limit := objects.PlatformLimit(c.Platform)
	length := utf8.RuneCountInString(body)
	lengthOK := length <= limit
	checks[CheckLengthOK] = lengthOK
	if !lengthOK {
		notes = append(notes, fmt.Sprintf("body has %d chars, %s allows %d", length, c.Platform, limit))
	}

	hits := []string{}
	if m.words != nil && body != "" {
		if found := m.words.FindAll(body); len(found) > 0 {
			hits = found
		}
	}
	checks[CheckSensitiveOK] = len(hits) == 0
	checks[CheckSensitiveWords] = hits
	if len(hits) > 0 {
		notes = append(notes, "sensitive words: "+strings.Join(hits, ", "))
	}

	tags := len(hashtagPattern.FindAllString(body, -1))
	hashtagsOK := tags <= m.maxHashtags
	checks[CheckHashtagsOK] = hashtagsOK
	if !hashtagsOK {
		notes = append(notes, fmt.Sprintf("%d hashtags, max %d", tags, m.maxHashtags))
	}

	quality := 0.0
	if content != nil {
		quality = content.QualityScore
	}
	qualityOK := quality >= m.qualityThreshold
	checks[CheckQuality] = quality
	checks[CheckQualityOK] = qualityOK
	if !qualityOK {
		notes = append(notes, fmt.Sprintf("quality %.2f below %.2f", quality, m.qualityThreshold))
	}

	hasLink := strings.Contains(body, "http://") || strings.Contains(body, "https://")
	if content != nil && content.CanonicalURL != "" {
		hasLink = hasLink || strings.Contains(body, content.CanonicalURL)
	}
	checks[CheckHasLink] = hasLink

	status := objects.ModerationPassed
	switch {
	case !notEmpty || len(hits) > 0:
		status = objects.ModerationRejected
	case !lengthOK || !hashtagsOK || !qualityOK:
		status = objects.ModerationNeedsReview
	}

	return Result{Checks: checks, Status: status, Notes: strings.Join(notes, "; ")}
}
