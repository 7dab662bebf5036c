package impression

import "go.uber.org/fx"

var Module = fx.Module("impression.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
