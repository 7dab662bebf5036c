package ratelimit

import (
	"looks-ledger/pkg/featureflags"

	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit.service",
	fx.Provide(
		func(ff featureflags.FeatureFlag) LimitSource { return ff },
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
