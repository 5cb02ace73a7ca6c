package core

import "context"

// TaskCreator 由 env 构造任务，调度器注册时调用一次
type TaskCreator func(env *Env) Task

// Task 一个可调度的流水线阶段（抓取、富化、发布等）
type Task interface {
	// Run ctx 到期或进程退出时取消；params 来自 YAML jobs 或自动任务的默认参数
	Run(ctx context.Context, params map[string]any) error

	// Identifier 任务名，例如 discovery:daily_crawl
	Identifier() string
}
