package discovery

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

// Scorer 给发现的内容打分，返回 relevance、quality，均在 [0,1]
type Scorer interface {
	Score(ctx context.Context, item Item, scope Scope) (relevance, quality float64, err error)
}

// HeuristicScorer 不依赖外部服务的默认打分
//   - relevance: 检索词在标题/摘要中的覆盖率 × 检索权重
//   - quality: 来源可信度、摘要长度、发布时间新鲜度的加权
type HeuristicScorer struct {
	Now func() time.Time
}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{Now: time.Now}
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"to": {}, "with": {}, "or": {}, "is": {}, "by": {}, "at": {},
}

func (s *HeuristicScorer) Score(ctx context.Context, item Item, scope Scope) (float64, float64, error) {
	return s.relevance(item, scope.Query), s.quality(item, scope), nil
}

func (s *HeuristicScorer) relevance(item Item, q *objects.TopicQuery) float64 {
	if q == nil {
		return 0.5
	}
	terms := tokenize(q.QueryText)
	if len(terms) == 0 {
		return 0.5
	}

	haystack := make(map[string]struct{})
	for _, w := range tokenize(item.Title + " " + item.Excerpt) {
		haystack[w] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := haystack[t]; ok {
			matched++
		}
	}

	weight := q.Weight
	if weight <= 0 {
		weight = 1
	}
	return clamp01(float64(matched) / float64(len(terms)) * weight)
}

func (s *HeuristicScorer) quality(item Item, scope Scope) float64 {
	reliability := 0.5
	if scope.Source != nil {
		reliability = scope.Source.ReliabilityScore
	}

	excerpt := 0.0
	switch n := len([]rune(strings.TrimSpace(item.Excerpt))); {
	case n >= 80:
		excerpt = 1
	case n > 0:
		excerpt = 0.5
	}

	recency := 0.5
	if item.PublishedAt != nil {
		window := 30
		if scope.Query != nil && scope.Query.RecencyWindow > 0 {
			window = scope.Query.RecencyWindow
		}
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		age := now().Sub(*item.PublishedAt).Hours() / 24
		recency = clamp01(1 - age/float64(window))
	}

	return clamp01(0.6*clamp01(reliability) + 0.2*excerpt + 0.2*recency)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || len([]rune(f)) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
