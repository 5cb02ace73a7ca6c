package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const (
	DailyCrawlName = "discovery:daily_crawl"
	WatchdogName   = "discovery:crawl_watchdog"
)

func init() {
	// cron 由配置 crawl.cron 覆盖
	tasks.RegisterAuto(DailyCrawlName, "0 0 6 * * *", NewDailyCrawlTask, map[string]any{})
	tasks.RegisterAuto(WatchdogName, "0 */10 * * * *", NewWatchdogTask, map[string]any{})
}

// DailyCrawlTask 每天一次的抓取批次
type DailyCrawlTask struct {
	env *core.Env
	now func() time.Time
}

func NewDailyCrawlTask(env *core.Env) core.Task {
	return &DailyCrawlTask{env: env, now: time.Now}
}

func (t *DailyCrawlTask) Identifier() string {
	return DailyCrawlName
}

// Run params.date 可指定日期（YYYY-MM-DD），默认今天
func (t *DailyCrawlTask) Run(ctx context.Context, params map[string]any) error {
	day := t.now()
	if v, ok := params["date"].(string); ok && v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", v, err)
		}
		day = parsed
	}

	job, err := t.env.Orchestrator.Run(ctx, day)
	if errors.Is(err, repo.ErrDuplicateRun) {
		logger.Info("⏭️ [Crawl] Already ran today, skip", zap.String("run_date", t.env.Orchestrator.RunDate(day)))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("🎉 [Crawl] Task finished",
		zap.String("status", job.Status),
		zap.Int("findings", job.FindingsCount))
	return nil
}

// WatchdogTask 中止卡住的批次
type WatchdogTask struct {
	env *core.Env
}

func NewWatchdogTask(env *core.Env) core.Task {
	return &WatchdogTask{env: env}
}

func (t *WatchdogTask) Identifier() string {
	return WatchdogName
}

func (t *WatchdogTask) Run(ctx context.Context, params map[string]any) error {
	staleAfter := t.env.Config.Crawl.StaleAfter
	if v, ok := params["stale_after"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid stale_after %q: %w", v, err)
		}
		staleAfter = d
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	n, err := t.env.Orchestrator.AbortStale(ctx, staleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("🐕 [Watchdog] Aborted stale jobs", zap.Int("count", n))
	}
	return nil
}
