package revenuecat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"looks-ledger/pkg/config"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.RevenueCat.BaseURL = srv.URL + "/"
	cfg.RevenueCat.APIKey = "sk_test"
	cfg.RevenueCat.Timeout = 200 * time.Millisecond
	cfg.RevenueCat.EntitlementKeys = []string{"creator_mode", "pro"}

	c := NewClient(cfg)
	c.now = func() time.Time { return fixedNow }
	return c
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}
}

func TestFetchSubscriberStateRequest(t *testing.T) {
	var gotPath, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		respond(http.StatusOK, `{"subscriber":{"entitlements":{},"subscriptions":{}}}`)(w, r)
	})

	active, verified, err := c.FetchSubscriberState(context.Background(), "user/1")
	require.NoError(t, err)
	require.False(t, active)
	require.True(t, verified)
	require.Equal(t, "/v1/subscribers/user%2F1", gotPath)
	require.Equal(t, "Bearer sk_test", gotAuth)
}

func TestFetchSubscriberStateEvaluation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "recognised entitlement unexpired",
			body: `{"subscriber":{"entitlements":{"pro":{"expires_date":"2026-07-01T00:00:00Z"}}}}`,
			want: true,
		},
		{
			name: "recognised entitlement expired",
			body: `{"subscriber":{"entitlements":{"pro":{"expires_date":"2026-05-01T00:00:00Z"}}}}`,
			want: false,
		},
		{
			name: "lifetime entitlement",
			body: `{"subscriber":{"entitlements":{"creator_mode":{"expires_date":null}}}}`,
			want: true,
		},
		{
			name: "unrecognised entitlement",
			body: `{"subscriber":{"entitlements":{"legacy":{"expires_date":"2027-01-01T00:00:00Z"}}}}`,
			want: false,
		},
		{
			name: "active subscription without entitlement",
			body: `{"subscriber":{"entitlements":{},"subscriptions":{"looks_monthly":{"expires_date":"2026-06-01T12:30:00.000Z"}}}}`,
			want: true,
		},
		{
			name: "expired subscription",
			body: `{"subscriber":{"subscriptions":{"looks_monthly":{"expires_date":"2026-06-01T11:59:59Z"}}}}`,
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, respond(http.StatusOK, tc.body))
			active, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
			require.NoError(t, err)
			require.True(t, verified)
			require.Equal(t, tc.want, active)
		})
	}
}

func TestFetchSubscriberStateNotFound(t *testing.T) {
	c := newTestClient(t, respond(http.StatusNotFound, `{"code":7259,"message":"Subscriber not found"}`))

	active, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, active)
	require.True(t, verified)
}

func TestFetchSubscriberStateFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusInternalServerError, `{}`))
		_, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		require.False(t, verified)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `<html>`))
		_, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
		require.ErrorIs(t, err, ErrMalformed)
		require.False(t, verified)
	})

	t.Run("missing subscriber", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{"value":1}`))
		_, _, err := c.FetchSubscriberState(context.Background(), "user-1")
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("timeout", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		_, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
		require.Error(t, err)
		require.False(t, verified)
	})

	t.Run("missing api key", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{}`))
		c.apiKey = ""
		_, verified, err := c.FetchSubscriberState(context.Background(), "user-1")
		require.ErrorIs(t, err, ErrNotConfigured)
		require.False(t, verified)
	})
}
