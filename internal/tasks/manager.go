package tasks

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/pkg/constants"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

type Scheduler interface {
	AddJob(cronExpr, taskName, uniqueJobName string, params map[string]any, source string) error
}

// ApplyAutoJobs 注册所有自动任务，cronOverrides 可以用配置覆盖代码里的默认 cron
func ApplyAutoJobs(sched Scheduler, cronOverrides map[string]string) {
	mu.RLock()
	defer mu.RUnlock()

	for _, job := range autoJobs {
		cronExpr := job.Cron
		if v := cronOverrides[job.Name]; v != "" {
			cronExpr = v
		}
		err := sched.AddJob(cronExpr, job.Name, job.Name, job.Params, string(constants.TaskTypeSYSTEM))
		if err != nil {
			logger.Error("❌ [AutoLoad] Failed to load", zap.String("job", job.Name), zap.Error(err))
		} else {
			logger.Info("✅ [AutoLoad] Loaded", zap.String("job", job.Name), zap.String("cron", cronExpr))
		}
	}
}

// AutoJob 定义一个“自启动任务”的结构
type AutoJob struct {
	Name    string           // 任务唯一标识
	Cron    string           // Cron 表达式
	Creator core.TaskCreator // 构造函数
	Params  map[string]any   // 默认参数
}

var (
	registry = make(map[string]core.TaskCreator) // 普通任务注册（供 Config 调用）
	autoJobs = make([]*AutoJob, 0)               // 自动任务列表（供代码直接启动）
	mu       sync.RWMutex
)

// Register 供 Config 使用
func Register(name string, creator core.TaskCreator) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = creator
}

// RegisterAuto 注册并自动启动 开发者只需要在自己的 task 文件里调这个，就能把“逻辑+配置”一站式搞定
func RegisterAuto(name string, cron string, creator core.TaskCreator, defaultParams map[string]any) {
	mu.Lock()
	defer mu.Unlock()

	// 1. 先注册到普通池子（这样 Web 界面也能手动触发）
	registry[name] = creator

	// 2. 加入自动启动列表
	autoJobs = append(autoJobs, &AutoJob{
		Name:    name,
		Cron:    cron,
		Creator: creator,
		Params:  defaultParams,
	})
}

func GetTask(name string, env *core.Env) (core.Task, error) {
	mu.RLock()
	defer mu.RUnlock()
	creator, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("task implementation '%s' not found", name)
	}
	return creator(env), nil
}

// Names 已注册的任务名
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// 参数读取，YAML 解析出的数字可能是 int 或 float64

func IntParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func FloatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func StringsParam(params map[string]any, key string, def []string) []string {
	switch v := params[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		var out []string
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
