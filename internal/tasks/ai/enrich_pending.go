package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/enrichment"
	"github.com/iceymoss/go-discovery/internal/tasks"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const EnrichPendingName = "ai:enrich_pending"

func init() {
	tasks.Register(EnrichPendingName, NewEnrichPendingTask)
}

// EnrichPendingTask 富化 -> 生成各平台草稿 -> 自动审核
type EnrichPendingTask struct {
	env *core.Env
}

func NewEnrichPendingTask(env *core.Env) core.Task {
	return &EnrichPendingTask{env: env}
}

func (t *EnrichPendingTask) Identifier() string {
	return EnrichPendingName
}

// EnrichParams 任务参数，未填时取 pipeline 配置
type EnrichParams struct {
	Limit        int
	MinRelevance float64
	Platforms    []string
}

func (t *EnrichPendingTask) Run(ctx context.Context, params map[string]any) error {
	p := t.parseParams(params)

	pending, err := t.env.Enrichment.Pending(ctx, p.MinRelevance, p.Limit)
	if err != nil {
		return err
	}
	logger.Info("🤖 [Enrich] Pending contents", zap.Int("count", len(pending)))

	enriched, drafts, failed := 0, 0, 0
	for _, content := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := t.env.Enrichment.Enrich(ctx, content.ID)
		switch {
		case err == nil:
			enriched++
		case errors.Is(err, enrichment.ErrAlreadyEnriched):
			// 并发写入，已有结果可以直接生成草稿
		case errors.Is(err, enrichment.ErrNoEnricher):
			return err
		default:
			failed++
			logger.Warn("❌ [Enrich] AI failed",
				zap.Uint64("content_id", content.ID),
				zap.Bool("permanent", errs.IsPermanent(err)),
				zap.Error(err))
			continue
		}

		created, err := t.env.Generator.Generate(ctx, content.ID, p.Platforms)
		if err != nil {
			logger.Warn("❌ [Enrich] Generate drafts failed", zap.Uint64("content_id", content.ID), zap.Error(err))
			continue
		}
		for _, c := range created {
			drafts++
			if _, err := t.env.Moderation.Moderate(ctx, c.ID); err != nil {
				logger.Warn("❌ [Enrich] Auto moderation failed", zap.Uint64("candidate_id", c.ID), zap.Error(err))
			}
		}
	}

	logger.Info("🎉 [Enrich] Task finished",
		zap.Int("enriched", enriched),
		zap.Int("drafts", drafts),
		zap.Int("failed", failed))
	if failed > 0 && enriched == 0 && len(pending) > 0 {
		return fmt.Errorf("all %d enrichments failed", failed)
	}
	return nil
}

func (t *EnrichPendingTask) parseParams(params map[string]any) EnrichParams {
	cfg := t.env.Config.Pipeline
	return EnrichParams{
		Limit:        tasks.IntParam(params, "limit", cfg.EnrichBatch),
		MinRelevance: tasks.FloatParam(params, "min_relevance", cfg.MinRelevance),
		Platforms:    tasks.StringsParam(params, "platforms", cfg.Platforms),
	}
}
