package task

import (
	"context"
	"errors"
	"fmt"

	"looks-ledger/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer is the producer side of the asynq queue used by the HTTP API,
// the sweep scheduler and the worker itself.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type asynqEnqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &asynqEnqueuer{client: client}
}

// Enqueue wraps the client error so callers can still match
// asynq.ErrDuplicateTask and asynq.ErrTaskIDConflict with errors.Is.
func (e *asynqEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if !errors.Is(err, asynq.ErrDuplicateTask) {
			logger.FromContext(ctx).Warn("enqueue failed", zap.String("task_type", task.Type()), zap.Error(err))
		}
		return nil, fmt.Errorf("failed to enqueue %s task: %w", task.Type(), err)
	}

	logger.FromContext(ctx).Debug("task enqueued",
		zap.String("task_type", task.Type()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return info, nil
}
