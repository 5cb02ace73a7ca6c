package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const SourcePingName = "sys:source_ping"

// SourcePingTask 检查启用来源的可达性
type SourcePingTask struct {
	env *core.Env
}

// init 只要这个包被 import，任务就会自动挂载
func init() {
	defaultParams := map[string]any{
		"timeout": 5,
	}
	tasks.RegisterAuto(SourcePingName, "@every 1h", NewSourcePingTask, defaultParams)
}

func NewSourcePingTask(env *core.Env) core.Task {
	return &SourcePingTask{env: env}
}

func (t *SourcePingTask) Identifier() string {
	return SourcePingName
}

func (t *SourcePingTask) Run(ctx context.Context, params map[string]any) error {
	timeout := time.Duration(tasks.IntParam(params, "timeout", 5)) * time.Second
	client := http.Client{Timeout: timeout}

	active := true
	sources, err := t.env.Sources.ListSources(ctx, repo.SourceFilter{Active: &active})
	if err != nil {
		return err
	}

	down := 0
	for _, s := range sources {
		url := s.FetchURL()
		if err := ping(ctx, &client, url); err != nil {
			down++
			logger.Warn("📡 [Ping] Source unreachable", zap.Uint64("source_id", s.ID), zap.String("url", url), zap.Error(err))
			continue
		}
		logger.Debug("✅ [Ping] Success", zap.String("url", url))
	}
	if down > 0 {
		return fmt.Errorf("%d of %d sources unreachable", down, len(sources))
	}
	return nil
}

func ping(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 有的站点不支持 HEAD
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	return nil
}
