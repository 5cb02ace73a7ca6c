package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

func TestHeuristicScorer(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s := &HeuristicScorer{Now: func() time.Time { return now }}
	ctx := context.Background()

	fresh := now.Add(-24 * time.Hour)
	scope := Scope{
		Query:  &objects.TopicQuery{QueryText: "Go generics performance", Weight: 1, RecencyWindow: 30},
		Source: &objects.ContentSource{ReliabilityScore: 0.9},
	}

	rel, q, err := s.Score(ctx, Item{
		Title:       "Generics in Go: performance notes",
		Excerpt:     "A long look at how generics affect performance in real Go services and what to measure first.",
		PublishedAt: &fresh,
	}, scope)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rel, 1e-9)
	assert.Greater(t, q, 0.8)

	rel, q2, err := s.Score(ctx, Item{Title: "Rust async runtime"}, scope)
	require.NoError(t, err)
	assert.Zero(t, rel)
	assert.Less(t, q2, q)

	// 权重超过 1 也不会越界
	scope.Query.Weight = 5
	rel, _, err = s.Score(ctx, Item{Title: "go news"}, scope)
	require.NoError(t, err)
	assert.LessOrEqual(t, rel, 1.0)

	// 没有检索语句时给中间值
	rel, _, err = s.Score(ctx, Item{Title: "anything"}, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, rel)
}
