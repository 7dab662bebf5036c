package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/db"
	"looks-ledger/pkg/hashistack/secretmanager"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/redis"
	"looks-ledger/pkg/revenuecat"
	"looks-ledger/pkg/task"
	"looks-ledger/services/entitlement"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		revenuecat.Module,
		entitlement.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
