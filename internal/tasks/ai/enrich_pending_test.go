package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/enrichment"
	"github.com/iceymoss/go-discovery/internal/moderation"
	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/sensitive"
	"github.com/iceymoss/go-discovery/pkg/transaction"
)

type stubEnricher struct {
	err error
}

func (e *stubEnricher) Enrich(_ context.Context, content *objects.DiscoveredContent) (enrichment.Result, error) {
	if e.err != nil {
		return enrichment.Result{}, e.err
	}
	return enrichment.Result{
		Summary:   content.Title + " explained.",
		KeyPoints: []string{"point one"},
		Hashtags:  []string{"#golang"},
	}, nil
}

func newEnv(t *testing.T, enricher enrichment.Enricher) (*core.Env, *gorm.DB) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	tm := transaction.NewManager(conn)
	words, err := sensitive.NewWord("")
	require.NoError(t, err)

	cfg := &conf.Config{
		Moderation: conf.ModerationConfig{MaxHashtags: 5, QualityThreshold: 0.5},
		Pipeline:   conf.PipelineConfig{Platforms: []string{"x", "linkedin"}, EnrichBatch: 10},
	}
	env := &core.Env{
		Config:     cfg,
		Enrichment: enrichment.NewService(tm, enricher),
		Generator:  candidate.NewGenerator(tm, "", ""),
		Moderation: moderation.NewService(tm, moderation.NewModerator(words, cfg.Moderation)),
	}
	return env, conn
}

func seedContent(t *testing.T, conn *gorm.DB, url string, relevance float64) *objects.DiscoveredContent {
	t.Helper()
	topic := &objects.Topic{Name: "Topic " + url, Slug: "topic-" + url[len(url)-1:], Priority: 100, IsActive: true}
	require.NoError(t, conn.Create(topic).Error)
	content := &objects.DiscoveredContent{
		CanonicalURL:   url,
		UrlHash:        url,
		Title:          "Release notes",
		TopicID:        &topic.ID,
		ContentType:    objects.ContentTypeArticle,
		RelevanceScore: relevance,
		QualityScore:   0.9,
	}
	require.NoError(t, conn.Create(content).Error)
	return content
}

func TestEnrichPendingGeneratesAndModeratesDrafts(t *testing.T) {
	env, conn := newEnv(t, &stubEnricher{})
	relevant := seedContent(t, conn, "https://example.com/a", 0.8)
	seedContent(t, conn, "https://example.com/b", 0.01)

	task := NewEnrichPendingTask(env)
	require.NoError(t, task.Run(context.Background(), map[string]any{"min_relevance": 0.5}))

	var enrichments int64
	require.NoError(t, conn.Model(&objects.ContentEnrichment{}).Count(&enrichments).Error)
	assert.Equal(t, int64(1), enrichments)

	var drafts []objects.PostCandidate
	require.NoError(t, conn.Where("content_id = ?", relevant.ID).Order("platform").Find(&drafts).Error)
	require.Len(t, drafts, 2)
	assert.Equal(t, "linkedin", drafts[0].Platform)
	assert.Equal(t, "x", drafts[1].Platform)

	var logs int64
	require.NoError(t, conn.Model(&objects.ModerationLog{}).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)

	// 再次运行没有待处理内容
	require.NoError(t, task.Run(context.Background(), map[string]any{"min_relevance": 0.5}))
	require.NoError(t, conn.Model(&objects.PostCandidate{}).Count(&logs).Error)
	assert.Equal(t, int64(2), logs)
}

func TestEnrichPendingWithoutEnricher(t *testing.T) {
	env, conn := newEnv(t, nil)
	seedContent(t, conn, "https://example.com/a", 0.8)

	err := NewEnrichPendingTask(env).Run(context.Background(), nil)
	assert.True(t, errors.Is(err, enrichment.ErrNoEnricher))
}

func TestEnrichPendingAllFailed(t *testing.T) {
	env, conn := newEnv(t, &stubEnricher{err: errs.Permanent("bad output", errors.New("not json"))})
	seedContent(t, conn, "https://example.com/a", 0.8)

	err := NewEnrichPendingTask(env).Run(context.Background(), nil)
	assert.Error(t, err)

	var drafts int64
	require.NoError(t, conn.Model(&objects.PostCandidate{}).Count(&drafts).Error)
	assert.Zero(t, drafts)
}
