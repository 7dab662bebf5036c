package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Auth struct {
		JWTSecret string `mapstructure:"JWT_SECRET"`
		Audience  string `mapstructure:"AUDIENCE"`
	} `mapstructure:"AUTH"`
	RevenueCat struct {
		BaseURL         string        `mapstructure:"BASE_URL"`
		APIKey          string        `mapstructure:"API_KEY"`
		Timeout         time.Duration `mapstructure:"TIMEOUT"`
		EntitlementKeys []string      `mapstructure:"ENTITLEMENT_KEYS"`
		WebhookSecret   string        `mapstructure:"WEBHOOK_SECRET"`
	} `mapstructure:"REVENUECAT"`
	RateLimit struct {
		WindowHours int           `mapstructure:"WINDOW_HOURS"`
		Limit       int           `mapstructure:"LIMIT"`
		LimitFlag   string        `mapstructure:"LIMIT_FLAG"`
		FlagTimeout time.Duration `mapstructure:"FLAG_TIMEOUT"`
	} `mapstructure:"RATE_LIMIT"`
	Sync struct {
		SweepHour   int `mapstructure:"SWEEP_HOUR"`
		SweepMinute int `mapstructure:"SWEEP_MINUTE"`
		BatchSize   int `mapstructure:"BATCH_SIZE"`
	} `mapstructure:"SYNC"`
	Snowflake struct {
		Node int64 `mapstructure:"NODE"`
	} `mapstructure:"SNOWFLAKE"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

// SecretReader returns the key/value pairs stored at path.
type SecretReader interface {
	Read(ctx context.Context, path string) (map[string]any, error)
}

type Params struct {
	fx.In
	Secrets SecretReader `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "looks-ledger")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REVENUECAT.BASE_URL", "https://api.revenuecat.com")
	v.SetDefault("REVENUECAT.TIMEOUT", 5*time.Second)
	v.SetDefault("REVENUECAT.ENTITLEMENT_KEYS", []string{"creator_mode", "pro"})
	v.SetDefault("RATE_LIMIT.WINDOW_HOURS", 24)
	v.SetDefault("RATE_LIMIT.LIMIT", 20)
	v.SetDefault("RATE_LIMIT.LIMIT_FLAG", "daily_generation_limit")
	v.SetDefault("RATE_LIMIT.FLAG_TIMEOUT", 300*time.Millisecond)
	v.SetDefault("SYNC.SWEEP_HOUR", 1)
	v.SetDefault("SYNC.BATCH_SIZE", 500)
	v.SetDefault("SNOWFLAKE.NODE", 1)

	// keys without a sensible default are still registered so AutomaticEnv
	// can bind them during Unmarshal
	for _, key := range []string{
		"APP_VERSION", "TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH", "OTEL.ADDR", "PYROSCOPE.ADDR",
		"DATABASE.HOST", "DATABASE.PORT", "DATABASE.DBNAME", "DATABASE.USER", "DATABASE.PASSWORD", "DATABASE.AUTO_MIGRATE",
		"REDIS.ADDR", "REDIS.PASSWORD", "REDIS.DB",
		"AUTH.JWT_SECRET", "AUTH.AUDIENCE",
		"REVENUECAT.API_KEY", "REVENUECAT.WEBHOOK_SECRET",
		"FLAGSMITH.ADDR", "FLAGSMITH.API_KEY",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

func LoadConfig(p Params) *Config {
	config := viper.New()
	setDefaults(config)

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Secrets != nil {
		if err := applySecrets(context.Background(), p.Secrets, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return &cfg
}

func applySecrets(ctx context.Context, secrets SecretReader, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	data, err := secrets.Read(ctx, cfg.AppEnv)
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret", zap.Int("keys", len(data)))

	get := func(key, fallback string) string {
		if val, ok := data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Auth.JWTSecret = get("jwt_secret", cfg.Auth.JWTSecret)
	cfg.RevenueCat.APIKey = get("revenuecat_api_key", cfg.RevenueCat.APIKey)
	cfg.RevenueCat.WebhookSecret = get("revenuecat_webhook_secret", cfg.RevenueCat.WebhookSecret)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)

	return nil
}

// RateLimitWindow returns the rolling window length for generation events.
func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimit.WindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.RateLimit.WindowHours) * time.Hour
}

// FlagTimeout bounds the per-request limit override lookup.
func (c *Config) FlagTimeout() time.Duration {
	if c.RateLimit.FlagTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return c.RateLimit.FlagTimeout
}
