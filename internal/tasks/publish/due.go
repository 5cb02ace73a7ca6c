package publish

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const DueName = "publish:due"

func init() {
	tasks.Register(DueName, NewDueTask)
}

// DueTask 发布到期的候选，并重试可重试的失败
type DueTask struct {
	env *core.Env
	now func() time.Time
}

func NewDueTask(env *core.Env) core.Task {
	return &DueTask{env: env, now: time.Now}
}

func (t *DueTask) Identifier() string {
	return DueName
}

func (t *DueTask) Run(ctx context.Context, params map[string]any) error {
	limit := tasks.IntParam(params, "limit", 50)
	maxAttempts := tasks.IntParam(params, "max_attempts", t.env.Config.Publish.MaxAttempts)
	retryDelay := time.Duration(tasks.IntParam(params, "retry_delay_seconds", int(t.env.Config.Publish.RetryDelay/time.Second))) * time.Second

	now := t.now()
	due, err := t.env.Candidates.Due(ctx, now, limit)
	if err != nil {
		return err
	}
	retry, err := t.env.Candidates.Retryable(ctx, maxAttempts, now.Add(-retryDelay), limit)
	if err != nil {
		return err
	}

	published, failed := 0, 0
	for _, c := range append(due, retry...) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := t.env.Candidates.Publish(ctx, c.ID)
		if err != nil {
			failed++
			continue
		}
		if res.Status == objects.CandidatePublished {
			published++
		}
	}
	if published+failed > 0 {
		logger.Info("📮 [Publish] Task finished",
			zap.Int("due", len(due)),
			zap.Int("retried", len(retry)),
			zap.Int("published", published),
			zap.Int("failed", failed))
	}
	return nil
}
