package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/crawl/fetcher"
	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	"github.com/iceymoss/go-discovery/pkg/storage"
	"github.com/iceymoss/go-discovery/pkg/transaction"
)

func feedXML(items ...string) string {
	pub := time.Now().Add(-time.Hour).Format(time.RFC1123Z)
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`
	for _, it := range items {
		body += fmt.Sprintf(`<item><title>%s</title><link>https://news.example/%s</link><pubDate>%s</pubDate></item>`, it, it, pub)
	}
	return body + `</channel></rss>`
}

type recordingArchive struct {
	mu   sync.Mutex
	recs []Record
}

func (a *recordingArchive) Store(_ context.Context, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

type env struct {
	tm      *transaction.Manager
	topics  *repo.TopicRepo
	sources *repo.SourceRepo
	jobs    *repo.JobRepo
	archive *recordingArchive
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	tm := transaction.NewManager(conn)
	return &env{
		tm:      tm,
		topics:  repo.NewTopicRepo(tm),
		sources: repo.NewSourceRepo(tm),
		jobs:    repo.NewJobRepo(tm),
		archive: &recordingArchive{},
	}
}

func (e *env) orchestrator(cfg conf.CrawlConfig) *Orchestrator {
	return NewOrchestrator(e.topics, e.sources, e.jobs,
		discovery.NewDiscoverer(e.tm, nil), fetcher.NewDefaultRegistry(nil, "test"), e.archive, cfg)
}

func (e *env) seedTopic(t *testing.T, query string, filters objects.QueryFilters) (*objects.Topic, *objects.TopicQuery) {
	t.Helper()
	ctx := context.Background()
	topic := &objects.Topic{Name: "Golang " + query, IsActive: true}
	require.NoError(t, e.topics.CreateTopic(ctx, topic))
	q := &objects.TopicQuery{TopicID: topic.ID, QueryText: query, IsActive: true, Filters: datatypes.NewJSONType(filters)}
	require.NoError(t, e.topics.AddQuery(ctx, q))
	return topic, q
}

func (e *env) seedSource(t *testing.T, name, url string) *objects.ContentSource {
	t.Helper()
	s := &objects.ContentSource{Name: name, SourceType: objects.SourceTypeRSS, BaseURL: url, IsActive: true}
	require.NoError(t, e.sources.CreateSource(context.Background(), s))
	return s
}

var fastConfig = conf.CrawlConfig{
	Concurrency:    4,
	AttemptTimeout: 2 * time.Second,
	MaxAttempts:    2,
	BackoffBase:    time.Millisecond,
	BackoffMax:     10 * time.Millisecond,
	MaxItems:       10,
}

func TestRunPartialWithRetries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML("go-124", "go-generics", "rust-news")))
	}))
	defer ok.Close()
	var limitedHits int
	var mu sync.Mutex
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		limitedHits++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	e.seedTopic(t, "go", objects.QueryFilters{})
	e.seedSource(t, "ok", ok.URL)
	e.seedSource(t, "limited", limited.URL)
	e.seedSource(t, "broken", broken.URL)

	o := e.orchestrator(fastConfig)
	day := time.Date(2025, 2, 11, 12, 0, 0, 0, time.UTC)
	job, err := o.Run(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlPartial, job.Status)
	assert.Equal(t, "2025-02-11", job.RunDate)
	assert.Equal(t, 1, job.TopicsCount)
	assert.Equal(t, 3, job.SourcesCount)
	assert.Equal(t, 1, job.QueriesCount)
	assert.Equal(t, 2, job.FindingsCount)
	assert.Equal(t, 2, limitedHits)

	logs, err := e.jobs.FetchLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	byStatus := map[string]int{}
	for _, l := range logs {
		byStatus[l.Status]++
		assert.NotNil(t, l.FinishedAt)
	}
	assert.Equal(t, map[string]int{objects.FetchSuccess: 1, objects.FetchRateLimited: 2, objects.FetchError: 1}, byStatus)

	// 重试写新的日志，签名相同、尝试序号递增
	var attempts []int
	for _, l := range logs {
		if l.Status == objects.FetchRateLimited {
			attempts = append(attempts, l.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts)

	require.Len(t, e.archive.recs, 1)
	assert.Len(t, e.archive.recs[0].Items, 2)

	_, err = o.Run(ctx, day)
	assert.True(t, errors.Is(err, repo.ErrDuplicateRun))
}

func TestRunRecoveredRetryIsPartial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(feedXML("go-retry")))
	}))
	defer srv.Close()
	e.seedTopic(t, "go", objects.QueryFilters{})
	e.seedSource(t, "flaky", srv.URL)

	// 每次尝试单独计数，重试成功也保留一次失败
	job, err := e.orchestrator(fastConfig).Run(ctx, time.Date(2025, 2, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlPartial, job.Status)
	assert.Equal(t, 1, job.FindingsCount)
	assert.Contains(t, job.Errors, "1/2 attempts failed")
}

func TestRunSucceededAndRediscoveryCountsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML("go-a", "go-b")))
	}))
	defer srv.Close()
	e.seedTopic(t, "go", objects.QueryFilters{})
	e.seedSource(t, "feed", srv.URL)

	o := e.orchestrator(fastConfig)
	first, err := o.Run(ctx, time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlSucceeded, first.Status)
	assert.Equal(t, 2, first.FindingsCount)

	second, err := o.Run(ctx, time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlSucceeded, second.Status)
	assert.Zero(t, second.FindingsCount)
}

func TestRunHonoursQueryFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML("go-a")))
	}))
	defer srv.Close()
	a := e.seedSource(t, "a", srv.URL+"/a")
	e.seedSource(t, "b", srv.URL+"/b")
	e.seedTopic(t, "go", objects.QueryFilters{SourceIDs: []uint64{a.ID}})

	job, err := e.orchestrator(fastConfig).Run(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, job.SourcesCount)
	logs, err := e.jobs.FetchLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, a.ID, *logs[0].SourceID)
}

func TestRunWithoutUnitsFails(t *testing.T) {
	e := newEnv(t)
	job, err := e.orchestrator(fastConfig).Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlFailed, job.Status)

	// 失败的日期可以重跑
	_, err = e.orchestrator(fastConfig).Run(context.Background(), time.Now())
	assert.NoError(t, err)
}

func TestJobTimeoutAbortsAndFinalisesPendingLogs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	e.seedTopic(t, "go", objects.QueryFilters{})
	e.seedSource(t, "slow", slow.URL)

	cfg := fastConfig
	cfg.JobTimeout = 100 * time.Millisecond
	job, err := e.orchestrator(cfg).Run(ctx, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobTimeout))
	require.NotNil(t, job)
	assert.Equal(t, objects.CrawlFailed, job.Status)

	logs, err := e.jobs.FetchLogs(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	for _, l := range logs {
		assert.Equal(t, objects.FetchError, l.Status)
		assert.NotNil(t, l.FinishedAt)
	}
}

func TestAbortStale(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.jobs.CreateJob(ctx, "2025-02-11")
	require.NoError(t, err)
	require.NoError(t, e.jobs.Start(ctx, job.ID, repo.PlanCounts{Topics: 1}))
	pending := &objects.FetchLog{CrawlJobID: job.ID, RequestSignature: "t1-q1-s1", Attempt: 1}
	require.NoError(t, e.jobs.StartFetch(ctx, pending))

	o := e.orchestrator(fastConfig)
	n, err := o.AbortStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	o.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err = o.AbortStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, objects.CrawlFailed, got.Status)
	assert.Contains(t, got.Errors, "watchdog")

	logs, err := e.jobs.FetchLogs(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, objects.FetchError, logs[0].Status)
	assert.Contains(t, logs[0].ErrorDetail, "watchdog")
}

func TestAllowed(t *testing.T) {
	rss := &objects.ContentSource{ID: 1, SourceType: objects.SourceTypeRSS}
	web := &objects.ContentSource{ID: 2, SourceType: objects.SourceTypeWEB}
	assert.True(t, allowed(objects.QueryFilters{}, rss))
	assert.True(t, allowed(objects.QueryFilters{SourceTypes: []string{"rss"}}, rss))
	assert.False(t, allowed(objects.QueryFilters{SourceTypes: []string{"RSS"}}, web))
	assert.False(t, allowed(objects.QueryFilters{SourceIDs: []uint64{1}}, web))
}

func TestFileArchive(t *testing.T) {
	store := storage.NewLocalStorage(t.TempDir(), "")
	a := NewFileArchive(store)
	require.NoError(t, a.Store(context.Background(), Record{
		RunDate:   "2025-02-11",
		Signature: "t1-q1-s1",
		Attempt:   1,
		Items:     []discovery.Item{{URL: "https://a.io/x", Title: "x"}},
	}))
}

func TestBackoff(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, nil, nil, conf.CrawlConfig{BackoffBase: time.Second, BackoffMax: 5 * time.Second})
	assert.Equal(t, time.Second, o.backoff(1))
	assert.Equal(t, 2*time.Second, o.backoff(2))
	assert.Equal(t, 4*time.Second, o.backoff(3))
	assert.Equal(t, 5*time.Second, o.backoff(4))
	assert.Equal(t, 5*time.Second, o.backoff(80))
}

func TestUnitSignature(t *testing.T) {
	u := unit{
		topic:  &objects.Topic{ID: 1},
		query:  &objects.TopicQuery{ID: 2},
		source: &objects.ContentSource{ID: 3},
	}
	sig := u.signature("2025-02-11")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, u.signature("2025-02-11"))
	assert.NotEqual(t, sig, u.signature("2025-02-12"))

	other := u
	other.source = &objects.ContentSource{ID: 4}
	assert.NotEqual(t, sig, other.signature("2025-02-11"))
}
