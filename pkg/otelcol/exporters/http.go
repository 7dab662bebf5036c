package exporters

import (
	"context"
	"strings"
	"time"

	"looks-ledger/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const dialTimeout = 10 * time.Second

// ProvideHttp builds an OTLP/HTTP span exporter for OTEL.ADDR. The address
// may be a bare host:port (plain HTTP) or carry an http:// or https:// scheme.
func ProvideHttp(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return otlptrace.New(ctx, otlptracehttp.NewClient(clientOptions(cfg.Otel.Addr)...))
}

func clientOptions(addr string) []otlptracehttp.Option {
	endpoint, secure := splitScheme(addr)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		otlptracehttp.WithTimeout(dialTimeout),
	}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func splitScheme(addr string) (endpoint string, secure bool) {
	switch {
	case strings.HasPrefix(addr, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "https://"), "/"), true
	case strings.HasPrefix(addr, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "http://"), "/"), false
	default:
		return addr, false
	}
}
