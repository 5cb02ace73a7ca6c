package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/constants"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const timeLayout = "2006-01-02 15:04:05"

// 单次执行的超时，要覆盖抓取批次自身的超时
const runTimeout = 65 * time.Minute

// ErrJobNotFound 手动触发的任务未注册
var ErrJobNotFound = errors.New("job not found")

// ErrJobRunning 同一任务上一次执行尚未结束
var ErrJobRunning = errors.New("job is already running")

type registeredJob struct {
	task    core.Task
	params  map[string]any
	entryID cron.EntryID
}

type Scheduler struct {
	cron  *cron.Cron
	Stats *StatManager
	env   *core.Env

	mu         sync.Mutex
	registered map[string]registeredJob
	running    map[string]bool
	wg         sync.WaitGroup
}

func NewScheduler(env *core.Env) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		Stats:      NewStatManager(),
		env:        env,
		registered: make(map[string]registeredJob),
		running:    make(map[string]bool),
	}
}

// AddJob 添加任务
func (s *Scheduler) AddJob(cronExpr, taskName, uniqueJobName string, params map[string]any, source string) error {
	// 1. 获取任务实现
	taskInstance, err := tasks.GetTask(taskName, s.env)
	if err != nil {
		return err
	}

	// 2. 加入 Cron
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.runTaskWithStats(uniqueJobName)
	})
	if err != nil {
		return err
	}

	// 3. 初始化状态
	s.Stats.Set(uniqueJobName, &JobStats{
		Name:       uniqueJobName,
		CronExpr:   cronExpr,
		Status:     constants.TaskStatusIdle,
		LastResult: "Pending",
		Source:     source,
	})

	s.mu.Lock()
	s.registered[uniqueJobName] = registeredJob{task: taskInstance, params: params, entryID: entryID}
	s.mu.Unlock()
	s.refreshNext(uniqueJobName)
	return nil
}

// runTaskWithStats 执行并记录状态，同一任务不重入
func (s *Scheduler) runTaskWithStats(name string) {
	s.mu.Lock()
	reg, ok := s.registered[name]
	if !ok || s.running[name] {
		s.mu.Unlock()
		if ok {
			logger.Warn("⏭️ [Schedule] Previous run still in progress, skip", zap.String("job", name))
		}
		return
	}
	s.running[name] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.execute(name, reg)
}

func (s *Scheduler) execute(name string, reg registeredJob) {
	s.Stats.Update(name, func(stat *JobStats) {
		stat.Status = constants.TaskStatusRunning
		stat.LastRunTime = time.Now().Format(timeLayout)
		stat.RunCount++
	})
	logger.Info("🚀 [Schedule] Starting job", zap.String("job", name))

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, reg.task, reg.params)

	s.Stats.Update(name, func(stat *JobStats) {
		stat.LastDuration = time.Since(start).Round(time.Millisecond).String()
		if err != nil {
			stat.LastResult = fmt.Sprintf("Error: %v", err)
			stat.Status = constants.TaskStatusError
			stat.ErrorCount++
		} else {
			stat.LastResult = "Success"
			stat.Status = constants.TaskStatusIdle
		}
	})
	s.refreshNext(name)

	if err != nil {
		logger.Error("❌ [Schedule] Job failed", zap.String("job", name), zap.Error(err))
	} else {
		logger.Info("✅ [Schedule] Job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// safeRun 任务 panic 不影响调度器
func safeRun(ctx context.Context, task core.Task, params map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx, params)
}

func (s *Scheduler) refreshNext(name string) {
	s.mu.Lock()
	reg, ok := s.registered[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	next := s.cron.Entry(reg.entryID).Next
	s.Stats.Update(name, func(stat *JobStats) {
		if !next.IsZero() {
			stat.NextRunTime = next.Format(timeLayout)
		}
	})
}

// ManualRun 手动触发
func (s *Scheduler) ManualRun(uniqueJobName string) error {
	s.mu.Lock()
	_, ok := s.registered[uniqueJobName]
	busy := s.running[uniqueJobName]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if busy {
		return ErrJobRunning
	}
	go s.runTaskWithStats(uniqueJobName)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, stat := range s.Stats.GetAll() {
		s.refreshNext(stat.Name)
	}
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
