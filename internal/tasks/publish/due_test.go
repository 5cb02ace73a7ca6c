package publish

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	"github.com/iceymoss/go-discovery/pkg/transaction"
)

type countingPublisher struct {
	calls []uint64
}

func (p *countingPublisher) Publish(_ context.Context, c *objects.PostCandidate) (string, error) {
	p.calls = append(p.calls, c.ID)
	return "ext", nil
}

func TestDueTaskPublishesDueAndRetryable(t *testing.T) {
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	tm := transaction.NewManager(conn)
	publisher := &countingPublisher{}
	env := &core.Env{
		Config:     &conf.Config{Publish: conf.PublishConfig{MaxAttempts: 3, RetryDelay: 5 * time.Minute}},
		Candidates: candidate.NewService(tm, nil, publisher, nil),
	}

	content := &objects.DiscoveredContent{CanonicalURL: "https://example.com/a", UrlHash: "a", ContentType: objects.ContentTypeArticle}
	require.NoError(t, conn.Create(content).Error)

	now := time.Now()
	past, future, stale := now.Add(-time.Minute), now.Add(time.Hour), now.Add(-time.Hour)
	due := &objects.PostCandidate{ContentID: content.ID, Platform: "x", BodyText: "a", Status: objects.CandidateScheduled, IntendedPublishTime: &past}
	later := &objects.PostCandidate{ContentID: content.ID, Platform: "linkedin", BodyText: "b", Status: objects.CandidateScheduled, IntendedPublishTime: &future}
	retry := &objects.PostCandidate{ContentID: content.ID, Platform: "mastodon", BodyText: "c", Status: objects.CandidateFailed, PublishAttempts: 1, UpdatedAt: stale}
	// 刚失败，还没到重试间隔
	fresh := &objects.PostCandidate{ContentID: content.ID, Platform: "reddit", BodyText: "f", Status: objects.CandidateFailed, PublishAttempts: 1, UpdatedAt: now.Add(-time.Minute)}
	exhausted := &objects.PostCandidate{ContentID: content.ID, Platform: "bluesky", BodyText: "d", Status: objects.CandidateFailed, PublishAttempts: 3}
	permanent := &objects.PostCandidate{ContentID: content.ID, Platform: "threads", BodyText: "e", Status: objects.CandidateFailed, PublishAttempts: 1, FailurePermanent: true}
	for _, c := range []*objects.PostCandidate{due, later, retry, fresh, exhausted, permanent} {
		require.NoError(t, conn.Create(c).Error)
	}

	task := &DueTask{env: env, now: func() time.Time { return now }}
	require.NoError(t, task.Run(context.Background(), nil))

	assert.ElementsMatch(t, []uint64{due.ID, retry.ID}, publisher.calls)

	var got objects.PostCandidate
	require.NoError(t, conn.First(&got, due.ID).Error)
	assert.Equal(t, objects.CandidatePublished, got.Status)
	assert.Equal(t, "ext", got.ExternalPostID)
	require.NoError(t, conn.First(&got, later.ID).Error)
	assert.Equal(t, objects.CandidateScheduled, got.Status)
	require.NoError(t, conn.First(&got, fresh.ID).Error)
	assert.Equal(t, objects.CandidateFailed, got.Status)
	assert.Equal(t, 1, got.PublishAttempts)

	// 间隔可以用任务参数覆盖
	publisher.calls = nil
	require.NoError(t, task.Run(context.Background(), map[string]any{"retry_delay_seconds": 0}))
	assert.Equal(t, []uint64{fresh.ID}, publisher.calls)
}
