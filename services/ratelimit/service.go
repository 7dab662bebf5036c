package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/db/option"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUnknownAction = errors.New("unknown action")

const failOpenMessage = "rate limit check unavailable, allowing generation"

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ratelimit_decisions_total",
	Help: "Daily generation limit decisions by outcome.",
}, []string{"decision"})

// LimitSource resolves a per-user limit override.
type LimitSource interface {
	Value(ctx context.Context, identifier, feature string) (value any, ok bool, err error)
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	flags  LimitSource
	now    func() time.Time
	window time.Duration
	limit  int64
	flag   string

	flagTimeout time.Duration

	events repository.Repository[GenerationEvent]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Flags  LimitSource `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	limit := int64(p.Config.RateLimit.Limit)
	if limit <= 0 {
		limit = 20
	}

	return &Service{
		db:     p.DB,
		node:   p.Node,
		flags:  p.Flags,
		now:    time.Now,
		window: p.Config.RateLimitWindow(),
		limit:  limit,
		flag:   p.Config.RateLimit.LimitFlag,

		flagTimeout: p.Config.FlagTimeout(),

		events: repository.ProvideStore[GenerationEvent](p.DB),
	}
}

// CheckAndMaybeRecord counts the user's events in the trailing window. A
// count failure fails open. With ActionRecord a permitted call also records
// one event.
func (s *Service) CheckAndMaybeRecord(ctx context.Context, userID string, p CheckParams) (*Decision, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("operation", "check_daily_limit"))

	switch p.Action {
	case "", ActionCheck, ActionRecord:
	default:
		return nil, errutil.BadRequest("unknown action: "+p.Action, ErrUnknownAction)
	}

	now := s.now().UTC()
	since := now.Add(-s.window)
	limit := s.limitFor(ctx, userID)

	var decision *Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTrx(tx)

		count, err := events.Count(ctx, &GenerationEvent{UserID: userID}, inWindow(since))
		if err != nil {
			return err
		}

		if count < limit {
			decision = &Decision{CanGenerate: true, Count: count, Limit: limit, Remaining: limit - count}
			if p.Action != ActionRecord {
				return nil
			}

			if err := events.Create(ctx, &GenerationEvent{
				ID:        s.node.Generate().String(),
				UserID:    userID,
				Action:    "generate",
				CreatedAt: now,
			}); err != nil {
				return err
			}
			decision.Count++
			decision.Remaining--
			decision.Recorded = true
			return nil
		}

		decision = &Decision{CanGenerate: false, Count: count, Limit: limit}
		decision.ResetInMinutes = s.resetMinutes(ctx, events, userID, since, now)
		decision.ResetTimeFormatted = FormatReset(decision.ResetInMinutes)
		return nil
	})
	if err != nil {
		zapLog.Error("daily limit check failed, failing open", zap.Error(err))
		decisions.WithLabelValues("fail_open").Inc()
		return &Decision{
			CanGenerate: true,
			Count:       0,
			Limit:       limit,
			Remaining:   limit,
			Error:       failOpenMessage,
		}, nil
	}

	if decision.CanGenerate {
		decisions.WithLabelValues("allowed").Inc()
	} else {
		zapLog.Info("daily generation limit reached", zap.Int64("count", decision.Count), zap.Int64("reset_in_minutes", decision.ResetInMinutes))
		decisions.WithLabelValues("denied").Inc()
	}

	return decision, nil
}

// resetMinutes falls back to the full window when the oldest event cannot
// be read.
func (s *Service) resetMinutes(ctx context.Context, events repository.Repository[GenerationEvent], userID string, since, now time.Time) int64 {
	oldest, err := events.FindOne(ctx, &GenerationEvent{UserID: userID},
		inWindow(since),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
	if err != nil || oldest == nil {
		if err != nil {
			logger.FromContext(ctx).Warn("failed to query oldest generation event", zap.String("user_id", userID), zap.Error(err))
		}
		return int64(s.window / time.Minute)
	}
	return resetInMinutes(oldest.CreatedAt, s.window, now)
}

func inWindow(since time.Time) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: since})
}

// limitFor applies the feature flag override when it resolves to a positive
// integer.
func (s *Service) limitFor(ctx context.Context, userID string) int64 {
	if s.flags == nil || s.flag == "" {
		return s.limit
	}

	value, ok, err := s.flagValue(ctx, userID)
	if err != nil || !ok {
		if err != nil {
			logger.FromContext(ctx).Debug("limit flag unavailable", zap.String("flag", s.flag), zap.Error(err))
		}
		return s.limit
	}

	if n, ok := toInt(value); ok && n > 0 {
		return n
	}
	return s.limit
}

type flagResult struct {
	value any
	ok    bool
	err   error
}

// flagValue bounds the lookup by flagTimeout even when the flag client does
// not honour ctx.
func (s *Service) flagValue(ctx context.Context, userID string) (any, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.flagTimeout)
	defer cancel()

	done := make(chan flagResult, 1)
	go func() {
		value, ok, err := s.flags.Value(ctx, userID, s.flag)
		done <- flagResult{value: value, ok: ok, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.ok, r.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
