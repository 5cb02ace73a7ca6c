package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/crawl/fetcher"
	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/utils"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

// ErrJobTimeout 批次超时被中止
var ErrJobTimeout = &errs.CodeMsg{Code: xerr.ErrTransient, Msg: "crawl job timed out"}

// unit 一个 (topic, query, source) 组合
type unit struct {
	topic  *objects.Topic
	query  *objects.TopicQuery
	source *objects.ContentSource
}

// signature 同一逻辑请求的所有重试共用，sha256(run_date|source|query)
func (u unit) signature(runDate string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|s%d|q%d", runDate, u.source.ID, u.query.ID)))
	return hex.EncodeToString(sum[:])
}

type Orchestrator struct {
	topics     *repo.TopicRepo
	sources    *repo.SourceRepo
	jobs       *repo.JobRepo
	discoverer *discovery.Discoverer
	fetchers   *fetcher.Registry
	archive    Archive
	cfg        conf.CrawlConfig
	loc        *time.Location
	now        func() time.Time

	mu       sync.Mutex
	limiters map[uint64]*rate.Limiter
}

func NewOrchestrator(
	topics *repo.TopicRepo,
	sources *repo.SourceRepo,
	jobs *repo.JobRepo,
	discoverer *discovery.Discoverer,
	fetchers *fetcher.Registry,
	archive Archive,
	cfg conf.CrawlConfig,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Orchestrator{
		topics:     topics,
		sources:    sources,
		jobs:       jobs,
		discoverer: discoverer,
		fetchers:   fetchers,
		archive:    archive,
		cfg:        cfg,
		loc:        utils.LoadLocation(cfg.Timezone),
		now:        time.Now,
		limiters:   make(map[uint64]*rate.Limiter),
	}
}

// RunDate day 在配置时区下的日期
func (o *Orchestrator) RunDate(day time.Time) string {
	return utils.RunDate(day, o.loc)
}

// Run 执行 day 当天的抓取批次；当天已有有效批次时返回 repo.ErrDuplicateRun
func (o *Orchestrator) Run(ctx context.Context, day time.Time) (*objects.CrawlJob, error) {
	runDate := o.RunDate(day)
	job, err := o.jobs.CreateJob(ctx, runDate)
	if err != nil {
		return nil, err
	}
	log := logger.Logger.With(zap.String("run_id", job.RunID), zap.String("run_date", runDate))

	units, plan, err := o.plan(ctx)
	if err != nil {
		o.abort(ctx, job.ID, "planning failed: "+err.Error())
		return nil, err
	}
	if err := o.jobs.Start(ctx, job.ID, plan); err != nil {
		o.abort(ctx, job.ID, "start failed: "+err.Error())
		return nil, err
	}
	log.Info("🕷️ crawl started",
		zap.Int("units", len(units)),
		zap.Int("topics", plan.Topics),
		zap.Int("sources", plan.Sources),
		zap.Int("queries", plan.Queries))

	jobCtx := ctx
	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}

	// 单元之间互不取消，错误全部落在抓取日志里
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, u := range units {
		if jobCtx.Err() != nil {
			break
		}
		u := u
		g.Go(func() error {
			o.runUnit(jobCtx, job, u)
			return nil
		})
	}
	_ = g.Wait()

	if err := jobCtx.Err(); err != nil {
		reason := fmt.Sprintf("crawl job timed out after %s", o.cfg.JobTimeout)
		if ctx.Err() != nil {
			reason = "crawl cancelled: " + ctx.Err().Error()
		}
		o.abort(ctx, job.ID, reason)
		log.Warn("⏱️ crawl aborted", zap.String("reason", reason))
		final, getErr := o.jobs.GetJob(context.WithoutCancel(ctx), job.ID)
		if getErr != nil {
			return nil, getErr
		}
		return final, fmt.Errorf("%s: %w", reason, ErrJobTimeout)
	}

	final, err := o.jobs.Finish(ctx, job.ID)
	if err != nil {
		// 运行期间被看门狗中止
		if errors.Is(err, repo.ErrJobNotRunning) {
			if cur, getErr := o.jobs.GetJob(ctx, job.ID); getErr == nil {
				return cur, err
			}
		}
		return nil, err
	}
	log.Info("✅ crawl finished",
		zap.String("status", final.Status),
		zap.Int("findings", final.FindingsCount),
		zap.String("errors", final.Errors))
	return final, nil
}

// AbortStale 外部看门狗：中止超过 olderThan 仍未结束的批次
func (o *Orchestrator) AbortStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := o.jobs.StaleJobs(ctx, o.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	aborted := 0
	for _, job := range stale {
		reason := fmt.Sprintf("watchdog: job not finished within %s", olderThan)
		if err := o.jobs.Abort(ctx, job.ID, reason); err != nil {
			if errors.Is(err, repo.ErrJobNotRunning) {
				continue
			}
			return aborted, err
		}
		aborted++
		logger.Warn("🐕 stale crawl job aborted", zap.Uint64("job_id", job.ID), zap.String("run_date", job.RunDate))
	}
	return aborted, nil
}

func (o *Orchestrator) abort(ctx context.Context, id uint64, reason string) {
	if err := o.jobs.Abort(context.WithoutCancel(ctx), id, reason); err != nil && !errors.Is(err, repo.ErrJobNotRunning) {
		logger.Error("abort crawl job failed", zap.Uint64("job_id", id), zap.Error(err))
	}
}

// plan 启用主题 × 启用检索语句 × 满足过滤条件的启用来源
func (o *Orchestrator) plan(ctx context.Context) ([]unit, repo.PlanCounts, error) {
	topics, err := o.topics.ActiveTopics(ctx)
	if err != nil {
		return nil, repo.PlanCounts{}, err
	}
	active := true
	sources, err := o.sources.ListSources(ctx, repo.SourceFilter{Active: &active})
	if err != nil {
		return nil, repo.PlanCounts{}, err
	}

	var units []unit
	topicSet, querySet, sourceSet := map[uint64]struct{}{}, map[uint64]struct{}{}, map[uint64]struct{}{}
	for _, t := range topics {
		for qi := range t.Queries {
			q := &t.Queries[qi]
			filters := q.Filters.Data()
			for _, s := range sources {
				if !allowed(filters, s) {
					continue
				}
				units = append(units, unit{topic: t, query: q, source: s})
				topicSet[t.ID] = struct{}{}
				querySet[q.ID] = struct{}{}
				sourceSet[s.ID] = struct{}{}
			}
		}
	}
	return units, repo.PlanCounts{Topics: len(topicSet), Sources: len(sourceSet), Queries: len(querySet)}, nil
}

func allowed(f objects.QueryFilters, s *objects.ContentSource) bool {
	if len(f.SourceTypes) > 0 && !containsFold(f.SourceTypes, s.SourceType) {
		return false
	}
	if len(f.SourceIDs) > 0 {
		for _, id := range f.SourceIDs {
			if id == s.ID {
				return true
			}
		}
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// runUnit 同一单元的尝试按顺序执行，限流时退避后写新的抓取日志重试
func (o *Orchestrator) runUnit(ctx context.Context, job *objects.CrawlJob, u unit) {
	limiter := o.limiter(u.source.ID)
	sig := u.signature(job.RunDate)
	topicID, queryID, sourceID := u.topic.ID, u.query.ID, u.source.ID

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		fl := &objects.FetchLog{
			CrawlJobID:       job.ID,
			TopicID:          &topicID,
			TopicQueryID:     &queryID,
			SourceID:         &sourceID,
			RequestSignature: sig,
			Attempt:          attempt,
		}
		if err := o.jobs.StartFetch(ctx, fl); err != nil {
			if !errors.Is(err, repo.ErrJobNotRunning) && ctx.Err() == nil {
				logger.Error("create fetch log failed", zap.String("signature", sig), zap.Error(err))
			}
			return
		}

		result, retryAfter := o.attempt(ctx, job, u, fl)
		// 批次超时后也要把已入库的新内容计入 findings_count
		if err := o.jobs.FinishFetch(context.WithoutCancel(ctx), fl, result); err != nil {
			if !errors.Is(err, repo.ErrFetchFinalized) {
				logger.Error("finish fetch log failed", zap.String("signature", sig), zap.Error(err))
			}
			return
		}
		if result.Status != objects.FetchRateLimited || attempt == o.cfg.MaxAttempts {
			return
		}

		wait := o.backoff(attempt)
		if retryAfter > o.cfg.BackoffMax {
			logger.Warn("🚦 retry-after beyond backoff limit, giving up",
				zap.String("signature", sig), zap.Duration("retry_after", retryAfter))
			return
		}
		if retryAfter > wait {
			wait = retryAfter
		}
		logger.Info("🚦 rate limited, retrying",
			zap.String("signature", sig), zap.Int("attempt", attempt), zap.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// attempt 执行一次抓取，返回结果和服务端要求的等待时间
func (o *Orchestrator) attempt(ctx context.Context, job *objects.CrawlJob, u unit, fl *objects.FetchLog) (repo.FetchResult, time.Duration) {
	f, err := o.fetchers.Resolve(u.source.SourceType)
	if err != nil {
		return repo.FetchResult{Status: objects.FetchError, Detail: err.Error()}, 0
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()
	req := fetcher.Request{Source: u.source, Topic: u.topic, Query: u.query, MaxItems: o.cfg.MaxItems}
	if u.query.RecencyWindow > 0 {
		req.Since = o.now().AddDate(0, 0, -u.query.RecencyWindow)
	}
	items, err := f.Fetch(actx, req)
	if err != nil {
		fe := fetcher.AsFetchError(err)
		detail := err.Error()
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			detail = fmt.Sprintf("attempt timed out after %s", o.cfg.AttemptTimeout)
		}
		status := objects.FetchError
		if fe.Kind == fetcher.KindRateLimited {
			status = objects.FetchRateLimited
		}
		return repo.FetchResult{Status: status, Detail: detail}, fe.RetryAfter
	}

	if o.archive != nil && len(items) > 0 {
		rec := Record{
			RunID:     job.RunID,
			RunDate:   job.RunDate,
			JobID:     job.ID,
			FetchID:   fl.ID,
			Signature: fl.RequestSignature,
			Attempt:   fl.Attempt,
			SourceID:  u.source.ID,
			SourceURL: u.source.FetchURL(),
			FetchedAt: o.now(),
			Items:     items,
		}
		if err := o.archive.Store(ctx, rec); err != nil {
			logger.Warn("archive raw fetch failed", zap.String("signature", fl.RequestSignature), zap.Error(err))
		}
	}

	scope := discovery.Scope{Topic: u.topic, Query: u.query, Source: u.source}
	created, invalid, failed := 0, 0, 0
	var lastErr error
	for _, it := range items {
		out, err := o.discoverer.Discover(ctx, it, scope)
		switch {
		case err == nil:
			if out.Created {
				created++
			}
		case errs.IsValidation(err):
			invalid++
		default:
			failed++
			lastErr = err
		}
	}

	res := repo.FetchResult{Status: objects.FetchSuccess, ItemsFound: len(items), NewItems: created}
	if invalid > 0 {
		res.Detail = fmt.Sprintf("skipped %d invalid items", invalid)
	}
	if failed > 0 {
		res.Status = objects.FetchError
		res.Detail = fmt.Sprintf("%d of %d items not stored: %v", failed, len(items), lastErr)
	}
	return res, 0
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BackoffBase << (attempt - 1)
	if d <= 0 || d > o.cfg.BackoffMax {
		return o.cfg.BackoffMax
	}
	return d
}

func (o *Orchestrator) limiter(sourceID uint64) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[sourceID]
	if !ok {
		limit := rate.Inf
		if o.cfg.PerSourceRPS > 0 {
			limit = rate.Limit(o.cfg.PerSourceRPS)
		}
		burst := o.cfg.PerSourceBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		o.limiters[sourceID] = l
	}
	return l
}
