package candidate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/moderation"
	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/sensitive"
	"github.com/iceymoss/go-discovery/pkg/transaction"
)

type fakePublisher struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *fakePublisher) Publish(_ context.Context, c *objects.PostCandidate) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "ext-" + c.Platform, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type fixture struct {
	conn      *gorm.DB
	tm        *transaction.Manager
	svc       *Service
	gen       *Generator
	mod       *moderation.Service
	publisher *fakePublisher
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	tm := transaction.NewManager(conn)
	words, err := sensitive.NewWord("", "casino")
	require.NoError(t, err)
	f := &fixture{
		conn:      conn,
		tm:        tm,
		publisher: &fakePublisher{},
		notifier:  &recordingNotifier{},
		gen:       NewGenerator(tm, "", ""),
		mod:       moderation.NewService(tm, moderation.NewModerator(words, conf.ModerationConfig{MaxHashtags: 5, QualityThreshold: 0.5})),
	}
	f.svc = NewService(tm, NewKeyedMutex(), f.publisher, f.notifier)
	return f
}

func (f *fixture) seedEnriched(t *testing.T, url, summary string) *objects.DiscoveredContent {
	t.Helper()
	topic := &objects.Topic{Name: "Go " + url, Slug: "go-" + url[len(url)-1:], Priority: 100, IsActive: true}
	require.NoError(t, f.conn.Create(topic).Error)
	content := &objects.DiscoveredContent{
		CanonicalURL: url,
		UrlHash:      url,
		Title:        "Go release",
		TopicID:      &topic.ID,
		ContentType:  objects.ContentTypeArticle,
		QualityScore: 0.9,
	}
	require.NoError(t, f.conn.Create(content).Error)
	enr := &objects.ContentEnrichment{
		ContentID: content.ID,
		Summary:   summary,
		KeyPoints: []string{"faster builds", "new iterators"},
		Hashtags:  []string{"#golang"},
	}
	require.NoError(t, f.conn.Create(enr).Error)
	return content
}

func TestCandidateEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := f.seedEnriched(t, "https://go.dev/blog/a", "Go 1.24 ships generic type aliases.")

	created, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	id := created[0].ID

	_, err = f.svc.Approve(ctx, id)
	assert.True(t, errors.Is(err, ErrModerationRequired))

	log, err := f.mod.Moderate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, objects.ModerationPassed, log.Status, log.Notes)

	c, err := f.svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidateApproved, c.Status)

	past := time.Now().Add(-time.Hour)
	_, err = f.svc.SetPublishTime(ctx, id, &past)
	require.NoError(t, err)
	_, err = f.svc.Schedule(ctx, id)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidateApproved, got.Status)

	future := time.Now().Add(time.Hour)
	_, err = f.svc.SetPublishTime(ctx, id, &future)
	require.NoError(t, err)
	c, err = f.svc.Schedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidateScheduled, c.Status)

	// 已排期的候选不能改到过去
	_, err = f.svc.SetPublishTime(ctx, id, &past)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	c, err = f.svc.Publish(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidatePublished, c.Status)
	assert.Equal(t, "ext-x", c.ExternalPostID)

	got, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidatePublished, got.Status)
	assert.Equal(t, "ext-x", got.ExternalPostID)
	assert.NotNil(t, got.PublishedAt)
	require.Len(t, got.Topics, 1)
	assert.Equal(t, *content.TopicID, got.Topics[0].ID)

	_, err = f.svc.Reject(ctx, id, "too late", "alice")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var to []string
	for _, e := range f.notifier.events {
		to = append(to, e.To)
	}
	assert.Equal(t, []string{objects.CandidateApproved, objects.CandidateScheduled, objects.CandidatePublished}, to)
}

func (f *fixture) scheduled(t *testing.T, url string) uint64 {
	t.Helper()
	ctx := context.Background()
	content := f.seedEnriched(t, url, "Summary for "+url)
	created, err := f.gen.Generate(ctx, content.ID, []string{"linkedin"})
	require.NoError(t, err)
	id := created[0].ID
	_, err = f.mod.Moderate(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, id)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	_, err = f.svc.SetPublishTime(ctx, id, &future)
	require.NoError(t, err)
	_, err = f.svc.Schedule(ctx, id)
	require.NoError(t, err)
	return id
}

func TestPublishFailureAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.scheduled(t, "https://go.dev/blog/b")

	f.publisher.errs = []error{errs.Transient("webhook", errors.New("503"))}
	c, err := f.svc.Publish(ctx, id)
	assert.True(t, errs.IsTransient(err))
	require.NotNil(t, c)
	assert.Equal(t, objects.CandidateFailed, c.Status)
	assert.False(t, c.FailurePermanent)
	assert.Empty(t, c.ExternalPostID)

	// 刚失败的候选要等过了重试间隔才会被捞出
	retry, err := f.svc.Retryable(ctx, 3, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, retry)

	retry, err = f.svc.Retryable(ctx, 3, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, id, retry[0].ID)

	c, err = f.svc.Publish(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidatePublished, c.Status)
	assert.Equal(t, 2, c.PublishAttempts)
	assert.Empty(t, c.FailureReason)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.scheduled(t, "https://go.dev/blog/c")

	f.publisher.errs = []error{errs.Permanent("webhook", errors.New("400 bad request"))}
	c, err := f.svc.Publish(ctx, id)
	assert.True(t, errs.IsPermanent(err))
	assert.True(t, c.FailurePermanent)

	retry, err := f.svc.Retryable(ctx, 3, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, retry)

	c, err = f.svc.Reopen(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.CandidateDraft, c.Status)
	assert.Zero(t, c.PublishAttempts)
}

func TestPublishRequiresScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := f.seedEnriched(t, "https://go.dev/blog/d", "Draft only")
	created, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, created[0].ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Zero(t, f.publisher.calls)
}

func TestUpdateBodyRequiresRemoderation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := f.seedEnriched(t, "https://go.dev/blog/e", "Original body")
	created, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)
	id := created[0].ID

	_, err = f.mod.Moderate(ctx, id)
	require.NoError(t, err)
	c, err := f.svc.UpdateBody(ctx, id, "Edited body")
	require.NoError(t, err)
	assert.Equal(t, "Edited body", c.BodyText)

	_, err = f.svc.Approve(ctx, id)
	assert.True(t, errors.Is(err, ErrModerationRequired))
}

func TestRejectRecordsModerationLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := f.seedEnriched(t, "https://go.dev/blog/f", "To be rejected")
	created, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)
	id := created[0].ID

	_, err = f.svc.Reject(ctx, id, "", "alice")
	assert.True(t, errors.Is(err, ErrReasonRequired))

	c, err := f.svc.Reject(ctx, id, "off topic", "alice")
	require.NoError(t, err)
	assert.Equal(t, objects.CandidateRejected, c.Status)

	latest, err := f.mod.Latest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, objects.ModerationRejected, latest.Status)
	assert.Equal(t, "alice", latest.Reviewer)

	// 被拒绝后允许为同一平台重新生成
	again, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := f.seedEnriched(t, "https://go.dev/blog/g", "Race")
	created, err := f.gen.Generate(ctx, content.ID, []string{"x"})
	require.NoError(t, err)
	id := created[0].ID
	_, err = f.mod.Moderate(ctx, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Approve(ctx, id)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, ErrInvalidTransition), err)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestGenerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := strings.Repeat("word ", 100)
	content := f.seedEnriched(t, "https://go.dev/blog/h", long)

	created, err := f.gen.Generate(ctx, content.ID, []string{"X", "linkedin", " "})
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, c := range created {
		assert.Equal(t, objects.CandidateDraft, c.Status)
		assert.LessOrEqual(t, len([]rune(c.BodyText)), objects.PlatformLimit(c.Platform))
		assert.Contains(t, c.BodyText, "https://go.dev/blog/h")
	}
	assert.Equal(t, "x", created[0].Platform)
	assert.Contains(t, created[1].BodyText, "• faster builds")

	again, err := f.gen.Generate(ctx, content.ID, []string{"x", "linkedin"})
	require.NoError(t, err)
	assert.Empty(t, again)

	bare := &objects.DiscoveredContent{CanonicalURL: "https://a.io/1", UrlHash: "h1", ContentType: objects.ContentTypeArticle}
	require.NoError(t, f.conn.Create(bare).Error)
	_, err = f.gen.Generate(ctx, bare.ID, []string{"x"})
	assert.True(t, errors.Is(err, ErrNotEnriched))

	_, err = f.gen.Generate(ctx, 9999, []string{"x"})
	assert.True(t, errs.IsNotFound(err))
}

func TestComposeBodyKeepsLinkWithinLimit(t *testing.T) {
	content := &objects.DiscoveredContent{
		CanonicalURL: "https://example.com/post",
		Enrichment: &objects.ContentEnrichment{
			Summary:   strings.Repeat("长", 400),
			KeyPoints: []string{"one", "two"},
			Hashtags:  []string{"#a", "#b"},
		},
	}
	body := ComposeBody(content, "bluesky")
	assert.LessOrEqual(t, len([]rune(body)), 300)
	assert.Contains(t, body, "https://example.com/post")
	assert.Contains(t, body, "…")
}
