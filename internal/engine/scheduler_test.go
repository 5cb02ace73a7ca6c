package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/constants"
)

type countingTask struct {
	runs  *int32
	fail  bool
	panic bool
	block chan struct{}
}

func (t *countingTask) Identifier() string { return "test:counting" }

func (t *countingTask) Run(ctx context.Context, params map[string]any) error {
	atomic.AddInt32(t.runs, 1)
	if t.block != nil {
		<-t.block
	}
	if t.panic {
		panic("boom")
	}
	if t.fail {
		return errors.New("failed on purpose")
	}
	return nil
}

func register(name string, task *countingTask) {
	tasks.Register(name, func(*core.Env) core.Task { return task })
}

func waitStatus(t *testing.T, s *Scheduler, name, status string, runs int64) JobStats {
	t.Helper()
	var stat JobStats
	require.Eventually(t, func() bool {
		var ok bool
		stat, ok = s.Stats.Get(name)
		return ok && stat.Status == status && stat.RunCount == runs
	}, 2*time.Second, 5*time.Millisecond)
	return stat
}

func TestManualRunRecordsStats(t *testing.T) {
	var runs int32
	register("test:ok", &countingTask{runs: &runs})
	s := NewScheduler(nil)
	require.NoError(t, s.AddJob("@every 1h", "test:ok", "test:ok", nil, string(constants.TaskTypeYAML)))

	stat, ok := s.Stats.Get("test:ok")
	require.True(t, ok)
	assert.Equal(t, constants.TaskStatusIdle, stat.Status)
	assert.Equal(t, "YAML", stat.Source)

	require.NoError(t, s.ManualRun("test:ok"))
	stat = waitStatus(t, s, "test:ok", constants.TaskStatusIdle, 1)
	assert.Equal(t, "Success", stat.LastResult)
	assert.NotEmpty(t, stat.LastRunTime)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	assert.ErrorIs(t, s.ManualRun("missing"), ErrJobNotFound)
}

func TestFailuresAndPanicsAreRecorded(t *testing.T) {
	var runs int32
	register("test:fail", &countingTask{runs: &runs, fail: true})
	register("test:panic", &countingTask{runs: &runs, panic: true})
	s := NewScheduler(nil)
	require.NoError(t, s.AddJob("@every 1h", "test:fail", "test:fail", nil, "YAML"))
	require.NoError(t, s.AddJob("@every 1h", "test:panic", "test:panic", nil, "YAML"))

	require.NoError(t, s.ManualRun("test:fail"))
	require.NoError(t, s.ManualRun("test:panic"))
	stat := waitStatus(t, s, "test:fail", constants.TaskStatusError, 1)
	assert.Contains(t, stat.LastResult, "failed on purpose")
	assert.Equal(t, int64(1), stat.ErrorCount)
	stat = waitStatus(t, s, "test:panic", constants.TaskStatusError, 1)
	assert.Contains(t, stat.LastResult, "panic: boom")
}

func TestManualRunDoesNotOverlap(t *testing.T) {
	var runs int32
	block := make(chan struct{})
	register("test:slow", &countingTask{runs: &runs, block: block})
	s := NewScheduler(nil)
	require.NoError(t, s.AddJob("@every 1h", "test:slow", "test:slow", nil, "YAML"))

	require.NoError(t, s.ManualRun("test:slow"))
	waitStatus(t, s, "test:slow", constants.TaskStatusRunning, 1)
	assert.ErrorIs(t, s.ManualRun("test:slow"), ErrJobRunning)

	close(block)
	waitStatus(t, s, "test:slow", constants.TaskStatusIdle, 1)
	s.Stop()
}

func TestAddJobRejectsUnknownTaskAndBadCron(t *testing.T) {
	var runs int32
	register("test:cron", &countingTask{runs: &runs})
	s := NewScheduler(nil)
	assert.Error(t, s.AddJob("@every 1h", "test:unknown", "x", nil, "YAML"))
	assert.Error(t, s.AddJob("not a cron", "test:cron", "x", nil, "YAML"))
	_, ok := s.Stats.Get("x")
	assert.False(t, ok)
}
