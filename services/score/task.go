package score

import (
	"context"
	"errors"
	"fmt"

	"engagement-core/pkg/task"
	"engagement-core/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RecomputePayload addresses one page of a recompute run. RunID ties the
// pages of a run together in the logs.
type RecomputePayload struct {
	RunID  string `json:"run_id"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

// NewRecomputeTask builds the task for one page. Pages are unique per run
// and cursor so a redelivered page cannot fork the chain.
func NewRecomputeTask(p RecomputePayload) (*asynq.Task, error) {
	return task.NewJSONTask(taskname.ScoreRecomputePage, p,
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", taskname.ScoreRecomputePage, p.RunID, p.Cursor)),
	)
}

type Task struct {
	svc      *Service
	enqueuer task.Enqueuer
}

type TaskParams struct {
	fx.In
	Service  *Service
	Enqueuer task.Enqueuer
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service, enqueuer: p.Enqueuer}
}

func (t *Task) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ScoreRecomputePage, t.HandleRecomputePage)
}

// HandleRecomputePage scores one page and chains the next one.
func (t *Task) HandleRecomputePage(ctx context.Context, at *asynq.Task) error {
	var p RecomputePayload
	if err := task.DecodePayload(at, &p); err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("task_type", at.Type()),
		zap.String("run_id", p.RunID),
		zap.String("cursor", p.Cursor),
	)

	res, err := t.svc.RecomputePage(ctx, p.Cursor, p.Limit)
	if err != nil {
		log.Error("score recompute page failed", zap.Error(err))
		return err
	}
	log.Info("score recompute page done", zap.Int("processed", res.Processed), zap.Int("skipped", res.Skipped))

	if res.NextCursor == "" {
		log.Info("score recompute run finished")
		return nil
	}

	next, err := NewRecomputeTask(RecomputePayload{RunID: p.RunID, Cursor: res.NextCursor, Limit: p.Limit})
	if err != nil {
		return err
	}
	if _, err := t.enqueuer.Enqueue(ctx, next); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Error("failed to enqueue next recompute page", zap.Error(err))
		return err
	}
	return nil
}
