package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
	errs "github.com/iceymoss/go-discovery/pkg/errors"
	"github.com/iceymoss/go-discovery/pkg/transaction"
	"github.com/iceymoss/go-discovery/pkg/utils"
	"github.com/iceymoss/go-discovery/pkg/xerr"
)

var (
	// ErrDuplicateRun 当天已有未失败的抓取批次
	ErrDuplicateRun = &errs.CodeMsg{Code: xerr.ErrConflict, Msg: "duplicate crawl run"}
	// ErrJobNotRunning 批次不在 RUNNING 状态，不能再写抓取日志
	ErrJobNotRunning = &errs.CodeMsg{Code: xerr.ErrValidation, Msg: "crawl job is not running"}
	// ErrFetchFinalized 抓取日志已被结束（通常是批次被中止）
	ErrFetchFinalized = &errs.CodeMsg{Code: xerr.ErrConflict, Msg: "fetch log already finalized"}
)

// JobRepo 抓取批次与抓取日志
type JobRepo struct {
	tm  *transaction.Manager
	now func() time.Time
}

func NewJobRepo(tm *transaction.Manager) *JobRepo {
	return &JobRepo{tm: tm, now: time.Now}
}

// PlanCounts 本次批次计划处理的数量
type PlanCounts struct {
	Topics  int
	Sources int
	Queries int
}

// FetchResult 一次抓取尝试的结果
type FetchResult struct {
	Status     string
	ItemsFound int
	NewItems   int
	Detail     string
}

// CreateJob 创建 QUEUED 批次，同一天已有未失败批次时返回 ErrDuplicateRun
func (r *JobRepo) CreateJob(ctx context.Context, runDate string) (*objects.CrawlJob, error) {
	if _, err := utils.ParseRunDate(runDate, time.UTC); err != nil {
		return nil, errs.Validation(fmt.Sprintf("invalid run date %q", runDate))
	}
	key := runDate
	job := &objects.CrawlJob{
		RunID:     uuid.NewString(),
		RunDate:   runDate,
		ActiveKey: &key,
		Status:    objects.CrawlQueued,
	}
	if err := r.tm.DB(ctx).Create(job).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return nil, fmt.Errorf("%s: %w", runDate, ErrDuplicateRun)
		}
		return nil, errs.Wrap(xerr.DB_ERROR, "create crawl job", err)
	}
	return job, nil
}

func (r *JobRepo) GetJob(ctx context.Context, id uint64) (*objects.CrawlJob, error) {
	var job objects.CrawlJob
	err := r.tm.DB(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound(fmt.Sprintf("crawl job %d not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "get crawl job", err)
	}
	return &job, nil
}

// ListJobs 最近的批次在前
func (r *JobRepo) ListJobs(ctx context.Context, runDate string, limit int) ([]*objects.CrawlJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 30
	}
	q := r.tm.DB(ctx).Order("id DESC").Limit(limit)
	if runDate != "" {
		q = q.Where("run_date = ?", runDate)
	}
	var list []*objects.CrawlJob
	if err := q.Find(&list).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list crawl jobs", err)
	}
	return list, nil
}

// Start QUEUED -> RUNNING，同时写入计划数量
func (r *JobRepo) Start(ctx context.Context, id uint64, plan PlanCounts) error {
	now := r.now()
	res := r.tm.DB(ctx).Model(&objects.CrawlJob{}).
		Where("id = ? AND status = ?", id, objects.CrawlQueued).
		Updates(map[string]any{
			"status":        objects.CrawlRunning,
			"started_at":    now,
			"topics_count":  plan.Topics,
			"sources_count": plan.Sources,
			"queries_count": plan.Queries,
		})
	if res.Error != nil {
		return errs.Wrap(xerr.DB_ERROR, "start crawl job", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Validation(fmt.Sprintf("crawl job %d is not queued", id))
	}
	return nil
}

// StartFetch 在 RUNNING 批次下创建一条待定的抓取日志
func (r *JobRepo) StartFetch(ctx context.Context, log *objects.FetchLog) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		// 先写批次行拿到行锁，与 Abort/Finish 串行
		res := tx.Model(&objects.CrawlJob{}).
			Where("id = ? AND status = ?", log.CrawlJobID, objects.CrawlRunning).
			Update("updated_at", r.now())
		if res.Error != nil {
			return errs.Wrap(xerr.DB_ERROR, "lock crawl job", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobNotRunning
		}
		log.Status = objects.FetchPending
		if log.StartedAt.IsZero() {
			log.StartedAt = r.now()
		}
		if err := tx.Create(log).Error; err != nil {
			return errs.Wrap(xerr.DB_ERROR, "create fetch log", err)
		}
		return nil
	})
}

// FinishFetch 结束一条待定的抓取日志并累加新发现数量
// 日志已被中止时仍累加 findings_count（新内容已经入库），再返回 ErrFetchFinalized
func (r *JobRepo) FinishFetch(ctx context.Context, log *objects.FetchLog, result FetchResult) error {
	now := r.now()
	finalized := false
	err := r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		tx := r.tm.DB(ctx)
		res := tx.Model(&objects.FetchLog{}).
			Where("id = ? AND status = ?", log.ID, objects.FetchPending).
			Updates(map[string]any{
				"status":       result.Status,
				"items_found":  result.ItemsFound,
				"new_items":    result.NewItems,
				"error_detail": result.Detail,
				"finished_at":  now,
			})
		if res.Error != nil {
			return errs.Wrap(xerr.DB_ERROR, "finish fetch log", res.Error)
		}
		finalized = res.RowsAffected == 0
		if result.NewItems > 0 {
			err := tx.Model(&objects.CrawlJob{}).Where("id = ?", log.CrawlJobID).
				Update("findings_count", gorm.Expr("findings_count + ?", result.NewItems)).Error
			if err != nil {
				return errs.Wrap(xerr.DB_ERROR, "add findings", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if finalized {
		return ErrFetchFinalized
	}
	log.Status = result.Status
	log.ItemsFound = result.ItemsFound
	log.NewItems = result.NewItems
	log.ErrorDetail = result.Detail
	log.FinishedAt = &now
	return nil
}

// Finish 汇总抓取日志，RUNNING -> SUCCEEDED | PARTIAL | FAILED
func (r *JobRepo) Finish(ctx context.Context, id uint64) (*objects.CrawlJob, error) {
	var job *objects.CrawlJob
	err := r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		logs, err := r.FetchLogs(ctx, id)
		if err != nil {
			return err
		}
		status, summary := Aggregate(logs)
		if err := r.finalize(ctx, id, status, summary, []string{objects.CrawlRunning}); err != nil {
			return err
		}
		job, err = r.GetJob(ctx, id)
		return err
	})
	return job, err
}

// Abort 标记批次失败，所有待定的抓取日志以 reason 结束为 ERROR
func (r *JobRepo) Abort(ctx context.Context, id uint64, reason string) error {
	return r.tm.Execute(ctx, nil, func(ctx context.Context) error {
		if err := r.finalize(ctx, id, objects.CrawlFailed, reason,
			[]string{objects.CrawlQueued, objects.CrawlRunning}); err != nil {
			return err
		}
		err := r.tm.DB(ctx).Model(&objects.FetchLog{}).
			Where("crawl_job_id = ? AND status = ?", id, objects.FetchPending).
			Updates(map[string]any{
				"status":       objects.FetchError,
				"error_detail": reason,
				"finished_at":  r.now(),
			}).Error
		if err != nil {
			return errs.Wrap(xerr.DB_ERROR, "finalize pending fetch logs", err)
		}
		return nil
	})
}

func (r *JobRepo) finalize(ctx context.Context, id uint64, status, summary string, from []string) error {
	updates := map[string]any{
		"status":      status,
		"errors":      summary,
		"finished_at": r.now(),
	}
	// 失败的批次释放当天的占用，允许重跑
	if status == objects.CrawlFailed {
		updates["active_key"] = nil
	}
	res := r.tm.DB(ctx).Model(&objects.CrawlJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return errs.Wrap(xerr.DB_ERROR, "finalize crawl job", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("crawl job %d: %w", id, ErrJobNotRunning)
	}
	return nil
}

// FetchLogs 按创建顺序返回批次下的抓取日志
func (r *JobRepo) FetchLogs(ctx context.Context, jobID uint64) ([]objects.FetchLog, error) {
	var logs []objects.FetchLog
	if err := r.tm.DB(ctx).Where("crawl_job_id = ?", jobID).Order("id").Find(&logs).Error; err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list fetch logs", err)
	}
	return logs, nil
}

// StaleJobs 启动早于 before 仍在运行，或创建早于 before 仍未启动的批次
func (r *JobRepo) StaleJobs(ctx context.Context, before time.Time) ([]*objects.CrawlJob, error) {
	var list []*objects.CrawlJob
	err := r.tm.DB(ctx).
		Where("(status = ? AND started_at < ?) OR (status = ? AND created_at < ?)",
			objects.CrawlRunning, before, objects.CrawlQueued, before).
		Order("id").Find(&list).Error
	if err != nil {
		return nil, errs.Wrap(xerr.DB_ERROR, "list stale jobs", err)
	}
	return list, nil
}
