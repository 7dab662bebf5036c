package entitlement

import (
	"looks-ledger/pkg/revenuecat"

	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		func(c *revenuecat.Client) Provider { return c },
		NewReconciler,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

var WorkerModule = fx.Module("entitlement.worker",
	fx.Provide(
		func(c *revenuecat.Client) Provider { return c },
		NewReconciler,
		NewWorker,
		NewScheduler,
	),
	fx.Invoke(RegisterHandlers, StartScheduler),
)
