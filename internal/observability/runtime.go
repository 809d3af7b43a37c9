package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sandeepkv93/gov-coordination-portal/internal/config"
)

// Runtime owns the OTel providers of one portal process. LoggerProvider is nil
// when OTLP log export is off.
type Runtime struct {
	LoggerProvider *sdklog.LoggerProvider
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider

	shutdowns []func(context.Context) error
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Shutdown(ctx)
		return nil, err
	}

	lp, err := InitLogs(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if lp != nil {
		rt.LoggerProvider = lp
		rt.shutdowns = append(rt.shutdowns, lp.Shutdown)
	}

	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	rt.MeterProvider = mp
	rt.shutdowns = append(rt.shutdowns, mp.Shutdown)

	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	rt.TracerProvider = tp
	rt.shutdowns = append(rt.shutdowns, tp.Shutdown)
	return rt, nil
}

// Shutdown flushes providers in reverse start order so spans and metrics
// recorded while logs drain are still exported.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.shutdowns) - 1; i >= 0; i-- {
		if err := r.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.shutdowns = nil
	return errors.Join(errs...)
}

func portalResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("service.namespace", "gov-coordination-portal"),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}
