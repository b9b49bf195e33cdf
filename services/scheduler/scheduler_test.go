package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"engagement-core/pkg/config"
	"engagement-core/pkg/rediskey"
	"engagement-core/pkg/taskname"
	"engagement-core/services/score"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, t)
	return &asynq.TaskInfo{ID: "t1", Queue: "low"}, nil
}

type onceLocker struct {
	held map[string]bool
	keys []string
}

func (l *onceLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func newTestScheduler(t *testing.T, enq *captureEnqueuer) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Scheduler.RecomputeSpec = "0 * * * *"
	cfg.Scheduler.RebuildSpec = "30 3 * * *"
	cfg.Scheduler.Timezone = "UTC"
	cfg.Score.BatchSize = 50

	s, err := NewScheduler(Params{Config: cfg, Enqueuer: enq, Node: node})
	require.NoError(t, err)
	return s
}

func TestNewSchedulerRegistersJobs(t *testing.T) {
	s := newTestScheduler(t, &captureEnqueuer{})
	require.Len(t, s.cron.Entries(), 2)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Scheduler.RecomputeSpec = "every now and then"
	_, err = NewScheduler(Params{Config: cfg, Enqueuer: &captureEnqueuer{}, Node: node})
	require.Error(t, err)

	cfg.Scheduler.RecomputeSpec = ""
	cfg.Scheduler.Timezone = "Mars/Olympus"
	_, err = NewScheduler(Params{Config: cfg, Enqueuer: &captureEnqueuer{}, Node: node})
	require.Error(t, err)
}

func TestEnqueueScoreRecomputeStartsRun(t *testing.T) {
	enq := &captureEnqueuer{}
	s := newTestScheduler(t, enq)

	require.NoError(t, s.EnqueueScoreRecompute(context.Background()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.ScoreRecomputePage, enq.tasks[0].Type())

	var p score.RecomputePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	require.NotEmpty(t, p.RunID)
	require.Empty(t, p.Cursor)
	require.Equal(t, 50, p.Limit)
}

func TestJobRunsOncePerLock(t *testing.T) {
	enq := &captureEnqueuer{}
	s := newTestScheduler(t, enq)
	locker := &onceLocker{held: map[string]bool{}}
	s.locker = locker

	run := s.job(jobScoreRecompute, s.EnqueueScoreRecompute)
	run()
	run()

	require.Len(t, enq.tasks, 1)
	require.Equal(t, []string{
		rediskey.BuildSchedulerLockKey(jobScoreRecompute),
		rediskey.BuildSchedulerLockKey(jobScoreRecompute),
	}, locker.keys)
}

func TestEnqueueBalanceSweepIgnoresDuplicate(t *testing.T) {
	enq := &captureEnqueuer{}
	s := newTestScheduler(t, enq)

	require.NoError(t, s.EnqueueBalanceSweep(context.Background()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.PointsRebuildBalance, enq.tasks[0].Type())
	require.JSONEq(t, `{"user_id":""}`, string(enq.tasks[0].Payload()))

	enq.err = asynq.ErrDuplicateTask
	require.NoError(t, s.EnqueueBalanceSweep(context.Background()))

	enq.err = errors.New("redis down")
	require.Error(t, s.EnqueueBalanceSweep(context.Background()))
}
