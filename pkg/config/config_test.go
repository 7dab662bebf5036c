package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig(Params{})

	require.Equal(t, "looks-ledger", cfg.AppName)
	require.Equal(t, 20, cfg.RateLimit.Limit)
	require.Equal(t, 24, cfg.RateLimit.WindowHours)
	require.Equal(t, 5*time.Second, cfg.RevenueCat.Timeout)
	require.Equal(t, []string{"creator_mode", "pro"}, cfg.RevenueCat.EntitlementKeys)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_LIMIT", "5")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg := LoadConfig(Params{})

	require.Equal(t, 5, cfg.RateLimit.Limit)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestRateLimitWindow(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 24*time.Hour, cfg.RateLimitWindow())

	cfg.RateLimit.WindowHours = 6
	require.Equal(t, 6*time.Hour, cfg.RateLimitWindow())
}

func TestFlagTimeout(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 300*time.Millisecond, cfg.FlagTimeout())

	cfg.RateLimit.FlagTimeout = time.Second
	require.Equal(t, time.Second, cfg.FlagTimeout())
}

type fakeSecrets struct {
	data map[string]any
	err  error
	path string
}

func (f *fakeSecrets) Read(ctx context.Context, path string) (map[string]any, error) {
	f.path = path
	return f.data, f.err
}

func TestApplySecretsOverridesCredentials(t *testing.T) {
	cfg := &Config{AppEnv: "staging"}
	cfg.Database.Password = "from-env"
	cfg.Auth.JWTSecret = "from-env"

	secrets := &fakeSecrets{data: map[string]any{
		"postgres_password":         "vault-pg",
		"jwt_secret":                "",
		"revenuecat_api_key":        "rc_key",
		"revenuecat_webhook_secret": 42,
	}}

	require.NoError(t, applySecrets(context.Background(), secrets, cfg))
	require.Equal(t, "staging", secrets.path)
	require.Equal(t, "vault-pg", cfg.Database.Password)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, "rc_key", cfg.RevenueCat.APIKey)
	require.Empty(t, cfg.RevenueCat.WebhookSecret)
}

func TestApplySecretsError(t *testing.T) {
	err := applySecrets(context.Background(), &fakeSecrets{err: errors.New("sealed")}, &Config{})
	require.EqualError(t, err, "sealed")
}
