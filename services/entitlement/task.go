package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"looks-ledger/pkg/task"
	"looks-ledger/pkg/taskname"

	"github.com/hibiken/asynq"
)

const (
	syncMaxRetry = 8
	syncUnique   = time.Minute
)

type SyncPayload struct {
	UserID string `json:"user_id"`
}

func NewSyncTask(userID string) (*asynq.Task, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	payload, err := json.Marshal(SyncPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.EntitlementSync, payload,
		asynq.MaxRetry(syncMaxRetry),
		asynq.Queue(taskname.QueueDefault),
		asynq.Unique(syncUnique),
	), nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(taskname.EntitlementSweep, nil,
		asynq.MaxRetry(3),
		asynq.Queue(taskname.QueueLow),
		asynq.Unique(time.Hour),
	)
}

// EnqueueSync schedules a reconciliation for userID. A sync already pending
// for the same user counts as success.
func EnqueueSync(ctx context.Context, enq task.Enqueuer, userID string) error {
	t, err := NewSyncTask(userID)
	if err != nil {
		return err
	}

	if _, err := enq.Enqueue(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return err
	}
	return nil
}

func parseSyncPayload(t *asynq.Task) (SyncPayload, error) {
	var p SyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %v: %w", taskname.EntitlementSync, err, asynq.SkipRetry)
	}
	if p.UserID == "" {
		return p, fmt.Errorf("invalid %s payload: %v: %w", taskname.EntitlementSync, ErrMissingUser, asynq.SkipRetry)
	}
	return p, nil
}
