package httpapi

import (
	"looks-ledger/pkg/config"
	"looks-ledger/pkg/health"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		middleware.NewAuthenticator,
		NewRouter,
	),
)

// Router is the gin engine plus the authenticated /v1 group every service
// registers its routes on.
type Router struct {
	*gin.Engine
	V1 *gin.RouterGroup
}

type RouterParams struct {
	fx.In
	Config *config.Config
	Auth   *middleware.Authenticator
	Health health.HealthService
}

func NewRouter(p RouterParams) *Router {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.CustomRecovery(middleware.Recover), middleware.Error(), middleware.Channel())

	engine.GET("/healthz", p.Health.Liveness)
	engine.GET("/readyz", p.Health.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Router{
		Engine: engine,
		V1:     engine.Group("/v1", p.Auth.Auth()),
	}
}
