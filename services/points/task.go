package points

import (
	"context"
	"fmt"

	"engagement-core/pkg/task"
	"engagement-core/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type UserTaskPayload struct {
	UserID string `json:"user_id"`
}

type Task struct {
	svc *Service
}

type TaskParams struct {
	fx.In
	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service}
}

// Register binds the points handlers on the worker mux.
func (t *Task) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.PointsRebuildBalance, t.HandleRebuildBalance)
	mux.HandleFunc(taskname.PointsFixMissingRewards, t.HandleFixMissingRewards)
}

func (t *Task) HandleRebuildBalance(ctx context.Context, at *asynq.Task) error {
	var payload UserTaskPayload
	if err := task.DecodePayload(at, &payload); err != nil {
		return err
	}

	log := zap.L().With(zap.String("task_type", at.Type()), zap.String("user_id", payload.UserID))
	if payload.UserID == "" {
		// empty user means a full sweep
		n, err := t.svc.RebuildAll(ctx, 0)
		if err != nil {
			log.Error("balance sweep failed", zap.Int("repaired", n), zap.Error(err))
			return err
		}
		log.Info("balance sweep done", zap.Int("repaired", n))
		return nil
	}

	audit, err := t.svc.RebuildBalance(ctx, payload.UserID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("user %s: %v: %w", payload.UserID, err, asynq.SkipRetry)
		}
		log.Error("balance rebuild failed", zap.Error(err))
		return err
	}

	log.Info("balance rebuilt", zap.Bool("repaired", audit.Repaired), zap.Int64("drift", audit.Drift()))
	return nil
}

func (t *Task) HandleFixMissingRewards(ctx context.Context, at *asynq.Task) error {
	var payload UserTaskPayload
	if err := task.DecodePayload(at, &payload); err != nil {
		return err
	}

	rewards, err := t.svc.FixMissingRewards(ctx, payload.UserID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("user %s: %v: %w", payload.UserID, err, asynq.SkipRetry)
		}
		return err
	}

	applied := 0
	for _, r := range rewards {
		if r.Applied {
			applied++
		}
	}
	zap.L().Info("missing rewards fixed",
		zap.String("user_id", payload.UserID),
		zap.Int("checked", len(rewards)),
		zap.Int("applied", applied))
	return nil
}
