package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/db/option"
	"looks-ledger/pkg/task"
	"looks-ledger/pkg/taskname"
	"looks-ledger/services/account"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnverified = errors.New("billing provider could not verify entitlement")

type Worker struct {
	db         *gorm.DB
	reconciler *Reconciler
	enqueuer   task.Enqueuer
	batchSize  int
}

type WorkerParams struct {
	fx.In
	DB         *gorm.DB
	Reconciler *Reconciler
	Enqueuer   task.Enqueuer
	Config     *config.Config
}

func NewWorker(p WorkerParams) *Worker {
	batch := p.Config.Sync.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Worker{
		db:         p.DB,
		reconciler: p.Reconciler,
		enqueuer:   p.Enqueuer,
		batchSize:  batch,
	}
}

func RegisterHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(taskname.EntitlementSync, w.HandleSync)
	mux.HandleFunc(taskname.EntitlementSweep, w.HandleSweep)
}

// HandleSync reconciles with the stored flag as the claim. An unverified
// outcome is returned as an error so asynq retries with backoff.
func (w *Worker) HandleSync(ctx context.Context, t *asynq.Task) error {
	p, err := parseSyncPayload(t)
	if err != nil {
		zap.L().Error("dropping entitlement sync task", zap.Error(err))
		return err
	}

	acc, err := account.Find(ctx, w.db, p.UserID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", p.UserID, err)
	}

	claimed := acc != nil && acc.EntitlementActive
	res, err := w.reconciler.Reconcile(ctx, p.UserID, claimed)
	if err != nil {
		return err
	}
	if !res.Verified {
		return fmt.Errorf("sync %s: %w", p.UserID, ErrUnverified)
	}

	return nil
}

func (w *Worker) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.EnqueueActive(ctx)
	return err
}

// EnqueueActive schedules a sync for every entitled account, walking the
// table in user_id order.
func (w *Worker) EnqueueActive(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	after := ""

	for {
		var batch []account.Account
		q := w.db.WithContext(ctx).
			Model(&account.Account{}).
			Select("user_id").
			Where("entitlement_active = ?", true)
		if after != "" {
			q = option.ApplyOperator(option.Condition{Field: "user_id", Operator: option.GT, Value: after})(q)
		}
		if err := q.Order("user_id").Limit(w.batchSize).Find(&batch).Error; err != nil {
			return total, fmt.Errorf("list entitled accounts: %w", err)
		}

		for _, acc := range batch {
			if err := EnqueueSync(ctx, w.enqueuer, acc.UserID); err != nil {
				zap.L().Error("failed to enqueue entitlement sync", zap.String("user_id", acc.UserID), zap.Error(err))
				return total, err
			}
			total++
		}

		if len(batch) < w.batchSize {
			break
		}
		after = batch[len(batch)-1].UserID
	}

	zap.L().Info("enqueued entitlement syncs", zap.Int("count", total), zap.Duration("duration", time.Since(start)))
	return total, nil
}
