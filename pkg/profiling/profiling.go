package profiling

import (
	"context"
	"fmt"

	"looks-ledger/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(ProvideProfiling))

// ProvideProfiling starts continuous profiling when PYROSCOPE.ADDR is set.
func ProvideProfiling(lc fx.Lifecycle, c *config.Config) (*pyroscope.Profiler, error) {
	if c.Pyroscope.Addr == "" {
		return nil, nil
	}

	zap.L().Info("starting pyroscope", zap.String("app_name", c.AppName), zap.String("pyroscope_addr", c.Pyroscope.Addr))
	profiler, err := pyroscope.Start(profilerConfig(c))
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down Pyroscope")
			return profiler.Stop()
		},
	})

	return profiler, nil
}

func profilerConfig(c *config.Config) pyroscope.Config {
	tags := map[string]string{
		"service_name": c.AppName,
		"env":          c.AppEnv,
	}
	if c.AppVersion != "" {
		tags["version"] = c.AppVersion
	}

	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	// mutex and block profiles only outside production
	if c.AppEnv != "production" {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileBlockCount)
	}

	return pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    types,
		Tags:            tags,
	}
}
