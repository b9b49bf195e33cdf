package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement-core/pkg/config"
	"engagement-core/pkg/rediskey"
	"engagement-core/pkg/task"
	"engagement-core/pkg/taskname"
	"engagement-core/services/points"
	"engagement-core/services/score"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobScoreRecompute = "score-recompute"
	jobPointsRebuild  = "points-rebuild"
)

// Locker elects a single instance per tick when several replicas run the
// scheduler.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type redisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) Locker {
	return &redisLocker{rdb: rdb}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

type Scheduler struct {
	cron     *cron.Cron
	enqueuer task.Enqueuer
	locker   Locker
	node     *snowflake.Node
	lockTTL  time.Duration
	batch    int
	now      func() time.Time
}

type Params struct {
	fx.In
	Config   *config.Config
	Enqueuer task.Enqueuer
	Node     *snowflake.Node
	Redis    *redis.Client `optional:"true"`
}

func NewScheduler(p Params) (*Scheduler, error) {
	sc := p.Config.Scheduler

	loc := time.UTC
	if sc.Timezone != "" {
		l, err := time.LoadLocation(sc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", sc.Timezone, err)
		}
		loc = l
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		enqueuer: p.Enqueuer,
		node:     p.Node,
		lockTTL:  sc.LockTTL,
		batch:    p.Config.Score.BatchSize,
		now:      time.Now,
	}
	if p.Redis != nil {
		s.locker = NewRedisLocker(p.Redis)
	}

	if sc.RecomputeSpec != "" {
		if _, err := s.cron.AddFunc(sc.RecomputeSpec, s.job(jobScoreRecompute, s.EnqueueScoreRecompute)); err != nil {
			return nil, fmt.Errorf("score recompute schedule %q: %w", sc.RecomputeSpec, err)
		}
	}
	if sc.RebuildSpec != "" {
		if _, err := s.cron.AddFunc(sc.RebuildSpec, s.job(jobPointsRebuild, s.EnqueueBalanceSweep)); err != nil {
			return nil, fmt.Errorf("points rebuild schedule %q: %w", sc.RebuildSpec, err)
		}
	}

	return s, nil
}

// StartScheduler ties the cron loop to the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enable {
		zap.L().Info("[Scheduler] disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("[Scheduler] started", zap.Int("jobs", len(s.cron.Entries())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			done := s.cron.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx := context.Background()
		start := s.now()

		ok, err := s.acquire(ctx, name)
		if err != nil {
			zap.L().Error("[Scheduler] lock failed", zap.String("job", name), zap.Error(err))
			return
		}
		if !ok {
			zap.L().Debug("[Scheduler] tick owned by another instance", zap.String("job", name))
			return
		}

		if err := fn(ctx); err != nil {
			zap.L().Error("[Scheduler] job failed", zap.String("job", name), zap.Error(err))
			return
		}
		zap.L().Info("[Scheduler] job enqueued",
			zap.String("job", name),
			zap.Duration("duration", s.now().Sub(start)))
	}
}

func (s *Scheduler) acquire(ctx context.Context, name string) (bool, error) {
	if s.locker == nil {
		return true, nil
	}
	return s.locker.Acquire(ctx, rediskey.BuildSchedulerLockKey(name), s.lockTTL)
}

// EnqueueScoreRecompute starts a new recompute run at the first page. The
// worker chains the remaining pages.
func (s *Scheduler) EnqueueScoreRecompute(ctx context.Context) error {
	runID := s.node.Generate().String()
	t, err := score.NewRecomputeTask(score.RecomputePayload{RunID: runID, Limit: s.batch})
	if err != nil {
		return err
	}

	info, err := s.enqueuer.Enqueue(ctx, t)
	if err != nil {
		return err
	}
	zap.L().Info("[Scheduler] score recompute run queued", zap.String("run_id", runID), zap.String("task_id", info.ID))
	return nil
}

// EnqueueBalanceSweep queues a rebuild of every cached balance.
func (s *Scheduler) EnqueueBalanceSweep(ctx context.Context) error {
	t, err := task.NewJSONTask(taskname.PointsRebuildBalance, points.UserTaskPayload{},
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(1),
		asynq.Unique(time.Hour),
	)
	if err != nil {
		return err
	}

	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return err
	}
	return nil
}
