package main

import (
	"log"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/db"
	"looks-ledger/pkg/featureflags"
	"looks-ledger/pkg/gen"
	"looks-ledger/pkg/hashistack/secretmanager"
	"looks-ledger/pkg/health"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/otelcol"
	"looks-ledger/pkg/profiling"
	"looks-ledger/pkg/redis"
	"looks-ledger/pkg/revenuecat"
	"looks-ledger/pkg/server"
	"looks-ledger/pkg/task"
	"looks-ledger/services/account"
	"looks-ledger/services/credit"
	"looks-ledger/services/entitlement"
	"looks-ledger/services/impression"
	"looks-ledger/services/ratelimit"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		featureflags.Module,
		revenuecat.Module,
		health.Module,
		httpapi.Module,
		fx.Invoke(
			startTracing,
			migrate,
		),
		credit.Module,
		ratelimit.Module,
		entitlement.Module,
		impression.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func startTracing(tp trace.TracerProvider) {
	zap.L().Debug("tracer provider ready")
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	return db.Migrate(cfg, conn,
		&account.Account{},
		&credit.CreditEntry{},
		&ratelimit.GenerationEvent{},
		&impression.OfferImpression{},
	)
}
