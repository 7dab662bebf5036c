package entitlement

import (
	"context"
	"errors"
	"time"

	"looks-ledger/pkg/db"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/revenuecat"
	"looks-ledger/services/account"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:generate mockgen -destination=mock_provider_test.go -package=entitlement . Provider

// Provider is the billing system of record. verified is true when the answer
// is authoritative, including "subscriber not found" (active=false). Any
// error means the state is unknown.
type Provider interface {
	FetchSubscriberState(ctx context.Context, userID string) (active, verified bool, err error)
}

type State string

const (
	StateVerifiedActive    State = "verified_active"
	StateVerifiedInactive  State = "verified_inactive"
	StateUnverifiedTrusted State = "unverified_trusted"
)

var ErrMissingUser = errors.New("user id is required")

var reconciles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "entitlement_reconcile_total",
	Help: "Entitlement reconciliations by terminal state.",
}, []string{"state"})

type Result struct {
	Active   bool  `json:"creator_mode_active"`
	Verified bool  `json:"verified_with_revenuecat"`
	State    State `json:"state"`
}

type Reconciler struct {
	db       *gorm.DB
	provider Provider
	now      func() time.Time
}

type ReconcilerParams struct {
	fx.In
	DB       *gorm.DB
	Provider Provider
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		db:       p.DB,
		provider: p.Provider,
		now:      time.Now,
	}
}

// Reconcile resolves the entitlement against the provider, falls back to
// the client's claim when the provider cannot answer, and persists the
// result without touching the balance.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, claimed bool) (*Result, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("operation", "reconcile_entitlement"))

	if userID == "" {
		return nil, errutil.BadRequest(ErrMissingUser.Error(), ErrMissingUser)
	}

	result := r.resolve(ctx, zapLog, userID, claimed)

	if err := r.persist(ctx, userID, result.Active); err != nil {
		zapLog.Error("failed to persist entitlement", zap.Bool("active", result.Active), zap.Error(err))
		return nil, errutil.Internal("failed to persist entitlement", err)
	}

	reconciles.WithLabelValues(string(result.State)).Inc()
	zapLog.Info("entitlement reconciled",
		zap.Bool("claimed", claimed),
		zap.Bool("active", result.Active),
		zap.String("state", string(result.State)),
	)

	return result, nil
}

func (r *Reconciler) resolve(ctx context.Context, zapLog *zap.Logger, userID string, claimed bool) *Result {
	active, verified, err := r.provider.FetchSubscriberState(ctx, userID)
	if err != nil || !verified {
		fields := []zap.Field{zap.Bool("claimed", claimed), zap.Error(err)}
		var statusErr *revenuecat.StatusError
		if errors.As(err, &statusErr) {
			fields = append(fields, zap.Int("upstream_status", statusErr.StatusCode))
		}
		zapLog.Warn("billing provider unavailable, trusting client claim", fields...)

		return &Result{Active: claimed, Verified: false, State: StateUnverifiedTrusted}
	}

	if active {
		return &Result{Active: true, Verified: true, State: StateVerifiedActive}
	}
	return &Result{Active: false, Verified: true, State: StateVerifiedInactive}
}

// persist upserts only the entitlement columns. A duplicate key that still
// escapes the upsert is repaired with a plain partial update.
func (r *Reconciler) persist(ctx context.Context, userID string, active bool) error {
	now := r.now().UTC()

	acc := &account.Account{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	acc.ApplyEntitlement(active)

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(account.EntitlementColumns),
	}).Create(acc).Error
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err) {
		return err
	}

	logger.FromContext(ctx).Info("entitlement upsert conflicted, retrying as update", zap.String("user_id", userID))
	return r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where("user_id = ?", userID).
		Updates(account.EntitlementUpdates(active, now)).Error
}
