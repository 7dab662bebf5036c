package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/db/option"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/repository"
	"looks-ledger/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	repository.Repository[T]
	countFn   func(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}

func (m *repoMock[T]) WithTrx(*gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	return m.countFn(ctx, query, opts...)
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	return m.findOneFn(ctx, query, opts...)
}

type fakeFlags struct {
	value any
	ok    bool
	err   error
}

func (f fakeFlags) Value(context.Context, string, string) (any, bool, error) {
	return f.value, f.ok, f.err
}

// stuckFlags ignores ctx and answers after delay.
type stuckFlags struct{ delay time.Duration }

func (f stuckFlags) Value(context.Context, string, string) (any, bool, error) {
	time.Sleep(f.delay)
	return 1, true, nil
}

func newTestService(t *testing.T, limit int, flags LimitSource) (*Service, *testutil.Clock) {
	t.Helper()
	db := testutil.NewTestDB(t, &GenerationEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.RateLimit.WindowHours = 24
	cfg.RateLimit.Limit = limit
	cfg.RateLimit.LimitFlag = "daily_generation_limit"

	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Flags: flags})
	c := testutil.NewClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	svc.now = c.Now
	return svc, c
}

func record(t *testing.T, svc *Service, userID string) *Decision {
	t.Helper()
	d, err := svc.CheckAndMaybeRecord(context.Background(), userID, CheckParams{Action: ActionRecord})
	require.NoError(t, err)
	return d
}

func TestCheckOnlyDoesNotRecord(t *testing.T) {
	svc, _ := newTestService(t, 20, nil)

	for _, action := range []string{"", ActionCheck} {
		d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{Action: action})
		require.NoError(t, err)
		require.Equal(t, &Decision{CanGenerate: true, Count: 0, Limit: 20, Remaining: 20}, d)
	}
}

func TestLimitReachedAndRollingReset(t *testing.T) {
	svc, clk := newTestService(t, 20, nil)

	for i := 1; i <= 20; i++ {
		d := record(t, svc, "user-1")
		require.True(t, d.CanGenerate)
		require.True(t, d.Recorded)
		require.Equal(t, int64(i), d.Count)
		require.Equal(t, int64(20-i), d.Remaining)
		clk.Advance(30 * time.Minute)
	}

	// 20 events spread over the last 10h, the oldest at -10h
	d := record(t, svc, "user-1")
	require.False(t, d.CanGenerate)
	require.False(t, d.Recorded)
	require.Equal(t, int64(20), d.Count)
	require.Equal(t, int64(0), d.Remaining)
	require.Equal(t, int64(14*60), d.ResetInMinutes)
	require.Equal(t, "14h 0m", d.ResetTimeFormatted)

	// other users are unaffected
	require.True(t, record(t, svc, "user-2").CanGenerate)

	// once the oldest event ages out one slot frees up, without any reset call
	clk.Advance(14*time.Hour + time.Second)
	d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{})
	require.NoError(t, err)
	require.True(t, d.CanGenerate)
	require.Equal(t, int64(19), d.Count)
	require.Equal(t, int64(1), d.Remaining)
}

func TestResetUnderAnHour(t *testing.T) {
	svc, clk := newTestService(t, 1, nil)

	require.True(t, record(t, svc, "user-1").CanGenerate)
	clk.Advance(23*time.Hour + 15*time.Minute + 30*time.Second)

	d := record(t, svc, "user-1")
	require.False(t, d.CanGenerate)
	require.Equal(t, int64(45), d.ResetInMinutes)
	require.Equal(t, "45m", d.ResetTimeFormatted)
}

func TestUnknownAction(t *testing.T) {
	svc, _ := newTestService(t, 20, nil)

	_, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{Action: "delete"})
	require.ErrorIs(t, err, ErrUnknownAction)
	require.Equal(t, errutil.StatusBadRequest, errutil.From(err).Code)
}

func TestFailOpenOnCountError(t *testing.T) {
	svc, _ := newTestService(t, 20, nil)
	svc.events = &repoMock[GenerationEvent]{
		countFn: func(context.Context, *GenerationEvent, ...option.QueryOption) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}

	d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{Action: ActionRecord})
	require.NoError(t, err)
	require.True(t, d.CanGenerate)
	require.Equal(t, int64(0), d.Count)
	require.Equal(t, int64(20), d.Remaining)
	require.NotEmpty(t, d.Error)
}

func TestOldestLookupFailureUsesFullWindow(t *testing.T) {
	svc, _ := newTestService(t, 20, nil)
	svc.events = &repoMock[GenerationEvent]{
		countFn: func(context.Context, *GenerationEvent, ...option.QueryOption) (int64, error) {
			return 25, nil
		},
		findOneFn: func(context.Context, *GenerationEvent, ...option.QueryOption) (*GenerationEvent, error) {
			return nil, errors.New("timeout")
		},
	}

	d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{})
	require.NoError(t, err)
	require.False(t, d.CanGenerate)
	require.Equal(t, int64(0), d.Remaining)
	require.Equal(t, int64(24*60), d.ResetInMinutes)
	require.Equal(t, "24h 0m", d.ResetTimeFormatted)
}

func TestLimitOverride(t *testing.T) {
	cases := []struct {
		name  string
		flags LimitSource
		want  int64
	}{
		{name: "float value", flags: fakeFlags{value: float64(3), ok: true}, want: 3},
		{name: "string value", flags: fakeFlags{value: "5", ok: true}, want: 5},
		{name: "disabled flag", flags: fakeFlags{value: 3, ok: false}, want: 20},
		{name: "lookup error", flags: fakeFlags{err: errors.New("flagsmith down")}, want: 20},
		{name: "garbage", flags: fakeFlags{value: "many", ok: true}, want: 20},
		{name: "non positive", flags: fakeFlags{value: 0, ok: true}, want: 20},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t, 20, tc.flags)
			d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{})
			require.NoError(t, err)
			require.Equal(t, tc.want, d.Limit)
		})
	}
}

func TestFormatReset(t *testing.T) {
	require.Equal(t, "0m", FormatReset(0))
	require.Equal(t, "0m", FormatReset(-5))
	require.Equal(t, "59m", FormatReset(59))
	require.Equal(t, "1h 0m", FormatReset(60))
	require.Equal(t, "23h 59m", FormatReset(23*60+59))
}

func TestResetInMinutes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	require.Equal(t, int64(0), resetInMinutes(now.Add(-25*time.Hour), window, now))
	require.Equal(t, int64(1), resetInMinutes(now.Add(-window+time.Second), window, now))
	require.Equal(t, int64(60), resetInMinutes(now.Add(-23*time.Hour), window, now))
}

func TestSlowLimitFlagFallsBackToConfiguredLimit(t *testing.T) {
	svc, _ := newTestService(t, 20, stuckFlags{delay: 2 * time.Second})
	svc.flagTimeout = 20 * time.Millisecond

	started := time.Now()
	d, err := svc.CheckAndMaybeRecord(context.Background(), "user-1", CheckParams{})
	require.NoError(t, err)
	require.Less(t, time.Since(started), time.Second)
	require.True(t, d.CanGenerate)
	require.Equal(t, int64(20), d.Limit)
}
