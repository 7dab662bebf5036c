package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"looks-ledger/pkg/db"
	"looks-ledger/pkg/db/option"
	"looks-ledger/pkg/db/pagination"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/repository"
	"looks-ledger/services/account"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrMissingUser       = errors.New("user id is required")
	ErrReferenceConflict = errors.New("reference_id already used by a different operation")
	ErrInvalidCursor     = errors.New("invalid cursor")
)

var operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "credit_operations_total",
	Help: "Credit ledger operations by operation and outcome.",
}, []string{"operation", "outcome"})

var entrySort = []option.QueryOption{
	option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}),
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	entries repository.Repository[CreditEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		entries: repository.ProvideStore[CreditEntry](p.DB),
	}
}

// timestamp is truncated to microseconds so the hashed created_at survives a
// round trip through postgres.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Spend debits exactly one credit. An empty balance is a normal outcome:
// the result reports Success=false and nothing is written.
func (s *Service) Spend(ctx context.Context, userID string, p SpendParams) (*SpendResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("operation", "spend"))

	if userID == "" {
		return nil, errutil.BadRequest(ErrMissingUser.Error(), ErrMissingUser)
	}

	var result *SpendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.ReferenceID != "" {
			replay, err := s.findReplay(ctx, tx, userID, p.ReferenceID, EntryDebit)
			if err != nil {
				return err
			}
			if replay != nil {
				result = &SpendResult{Success: true, NewBalance: replay.balance, Replayed: true}
				return nil
			}
		}

		now := s.timestamp()
		res := tx.Model(&account.Account{}).
			Where("user_id = ? AND balance > 0", userID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", 1),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}

		balance, err := s.currentBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if res.RowsAffected == 0 {
			// a duplicate that looked up its reference before the first request
			// committed finds the balance that request drained
			if p.ReferenceID != "" {
				replay, err := s.findReplay(ctx, tx, userID, p.ReferenceID, EntryDebit)
				if err != nil {
					return err
				}
				if replay != nil {
					result = &SpendResult{Success: true, NewBalance: replay.balance, Replayed: true}
					return nil
				}
			}
			result = &SpendResult{Success: false, NewBalance: balance}
			return nil
		}

		if err := s.appendEntry(ctx, tx, EntryParams{
			UserID:       userID,
			Type:         EntryDebit,
			Amount:       1,
			BalanceAfter: balance,
			ReferenceID:  p.ReferenceID,
			Description:  p.Description,
			Metadata:     encodeMetadata(p.Metadata),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		result = &SpendResult{Success: true, NewBalance: balance}
		return nil
	})
	if err != nil {
		// a concurrent request with the same reference won the unique index;
		// its debit stands and ours was rolled back
		if p.ReferenceID != "" && db.IsUniqueViolation(err) {
			replay, rerr := s.replayAfterConflict(ctx, userID, p.ReferenceID, EntryDebit)
			if rerr == nil {
				operations.WithLabelValues("spend", "replayed").Inc()
				return &SpendResult{Success: true, NewBalance: replay.balance, Replayed: true}, nil
			}
			err = rerr
		}
		if errors.Is(err, ErrReferenceConflict) {
			return nil, errutil.Conflict(err.Error(), err)
		}
		zapLog.Error("failed to spend credit", zap.Error(err))
		operations.WithLabelValues("spend", "error").Inc()
		return nil, errutil.Internal("failed to spend credit", err)
	}

	switch {
	case result.Replayed:
		operations.WithLabelValues("spend", "replayed").Inc()
	case result.Success:
		operations.WithLabelValues("spend", "success").Inc()
	default:
		zapLog.Info("insufficient credits", zap.Int64("balance", result.NewBalance))
		operations.WithLabelValues("spend", "insufficient").Inc()
	}

	return result, nil
}

// Add credits amount to the user's balance, creating the account row on the
// first purchase.
func (s *Service) Add(ctx context.Context, userID string, p AddParams) (*AddResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("operation", "add"))

	if userID == "" {
		return nil, errutil.BadRequest(ErrMissingUser.Error(), ErrMissingUser)
	}
	if p.Amount <= 0 {
		return nil, errutil.BadRequest(ErrInvalidAmount.Error(), ErrInvalidAmount)
	}

	var result *AddResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.ReferenceID != "" {
			replay, err := s.findReplay(ctx, tx, userID, p.ReferenceID, EntryCredit)
			if err != nil {
				return err
			}
			if replay != nil {
				result = &AddResult{Success: true, NewBalance: replay.balance, Added: replay.entry.Amount, Replayed: true}
				return nil
			}
		}

		now := s.timestamp()
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&account.Account{
			UserID:      userID,
			QualityTier: account.QualityStandard,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error; err != nil {
			return err
		}

		res := tx.Model(&account.Account{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", p.Amount),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		balance, err := s.currentBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := s.appendEntry(ctx, tx, EntryParams{
			UserID:       userID,
			Type:         EntryCredit,
			Amount:       p.Amount,
			BalanceAfter: balance,
			ReferenceID:  p.ReferenceID,
			Description:  p.Description,
			Metadata:     encodeMetadata(p.Metadata),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		result = &AddResult{Success: true, NewBalance: balance, Added: p.Amount}
		return nil
	})
	if err != nil {
		if p.ReferenceID != "" && db.IsUniqueViolation(err) {
			replay, rerr := s.replayAfterConflict(ctx, userID, p.ReferenceID, EntryCredit)
			if rerr == nil {
				operations.WithLabelValues("add", "replayed").Inc()
				return &AddResult{Success: true, NewBalance: replay.balance, Added: replay.entry.Amount, Replayed: true}, nil
			}
			err = rerr
		}
		if errors.Is(err, ErrReferenceConflict) {
			return nil, errutil.Conflict(err.Error(), err)
		}
		zapLog.Error("failed to add credits", zap.Int64("amount", p.Amount), zap.Error(err))
		operations.WithLabelValues("add", "error").Inc()
		return nil, errutil.Internal("failed to add credits", err)
	}

	if result.Replayed {
		operations.WithLabelValues("add", "replayed").Inc()
	} else {
		operations.WithLabelValues("add", "success").Inc()
	}

	return result, nil
}

// GetBalance returns the account row, or a zero-valued account when the user
// has never bought credits nor synced entitlements.
func (s *Service) GetBalance(ctx context.Context, userID string) (*account.Account, error) {
	acc, err := account.Find(ctx, s.db, userID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query balance", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("failed to query balance", err)
	}
	if acc == nil {
		acc = &account.Account{UserID: userID, QualityTier: account.QualityStandard}
	}
	return acc, nil
}

// ListEntries pages through the journal newest first.
func (s *Service) ListEntries(ctx context.Context, userID string, page pagination.Pagination) ([]*CreditEntry, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}

	opts := append([]option.QueryOption{}, entrySort...)
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest(ErrInvalidCursor.Error(), fmt.Errorf("%w: %v", ErrInvalidCursor, err))
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest(ErrInvalidCursor.Error(), fmt.Errorf("%w: %v", ErrInvalidCursor, err))
		}
		opts = append(opts, func(q *gorm.DB) *gorm.DB {
			return q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, cursor.ID)
		})
	}
	opts = append(opts, option.ApplyPagination(pagination.Pagination{Limit: limit + 1}))

	entries, err := s.entries.Find(ctx, &CreditEntry{UserID: userID}, opts...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query list entries", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, errutil.Internal("failed to list entries", err)
	}

	entries, info := pagination.BuildCursorPageInfo(entries, limit, func(e *CreditEntry) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano), ID: e.ID})
		return c
	})

	return entries, info, nil
}

// VerifyChain recomputes every hash of the user's journal in order.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &CreditEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query Find entries", zap.String("user_id", userID), zap.Error(err))
		return false, errutil.Internal("failed to verify chain", err)
	}

	return verifyEntries(entries), nil
}

func verifyEntries(entries []*CreditEntry) bool {
	lastHash := genesisHash
	for _, entry := range entries {
		if entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			return false
		}
		lastHash = entry.Hash
	}
	return true
}

type replayed struct {
	entry   *CreditEntry
	balance int64
}

func (s *Service) findReplay(ctx context.Context, tx *gorm.DB, userID, referenceID string, typ EntryType) (*replayed, error) {
	ref := referenceID
	existing, err := s.entries.WithTrx(tx).FindOne(ctx, &CreditEntry{UserID: userID, ReferenceID: &ref})
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.Type != typ {
		return nil, ErrReferenceConflict
	}

	balance, err := s.currentBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return &replayed{entry: existing, balance: balance}, nil
}

func (s *Service) currentBalance(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	acc, err := account.Find(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, nil
	}
	return acc.Balance, nil
}

// replayAfterConflict answers a request that lost the reference unique index
// with the entry stored by the winner.
func (s *Service) replayAfterConflict(ctx context.Context, userID, referenceID string, typ EntryType) (*replayed, error) {
	replay, err := s.findReplay(ctx, s.db.WithContext(ctx), userID, referenceID, typ)
	if err != nil {
		return nil, err
	}
	if replay == nil {
		return nil, fmt.Errorf("reference %q conflicted but no entry was found", referenceID)
	}
	return replay, nil
}

// appendEntry links the new entry to the user's latest one. Callers hold the
// account row lock, which serialises appends per user. The entry time was
// read before the lock, so it is moved past the tip to keep (created_at, id)
// order equal to chain order.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, p EntryParams) error {
	entries := s.entries.WithTrx(tx)

	last, err := entries.FindOne(ctx, &CreditEntry{UserID: p.UserID}, entrySort...)
	if err != nil {
		return err
	}
	if last != nil {
		p.PreviousHash = last.Hash
		p.CreatedAt = chainTime(p.CreatedAt, last.CreatedAt)
	}

	p.EntryID = s.node.Generate().String()
	return entries.Create(ctx, NewCreditEntry(p))
}

// chainTime returns at, or one microsecond past tip when at does not come
// after it.
func chainTime(at, tip time.Time) time.Time {
	tip = tip.UTC().Truncate(time.Microsecond)
	if at.After(tip) {
		return at
	}
	return tip.Add(time.Microsecond)
}

func encodeMetadata(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
