// Package telemetry wires OpenTelemetry tracing, metrics and logging.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Providers is the set of installed telemetry providers.
type Providers struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	shutdown []func(context.Context) error
}

// Setup installs tracer, meter and logger providers exporting to
// cfg.OTLPEndpoint. When enabled is false the global no-op providers stay in
// place and logs go to stdout as JSON.
func Setup(ctx context.Context, cfg Config, enabled bool) (*Providers, error) {
	p := &Providers{}

	if !enabled {
		p.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		m, err := NewMetrics(noopMeter())
		if err != nil {
			return nil, err
		}
		p.Metrics = m
		return p, nil
	}

	conn, err := dial(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	p.shutdown = append(p.shutdown, func(context.Context) error { return conn.Close() })

	tp, err := InitTracerProvider(ctx, cfg, conn)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.shutdown = append(p.shutdown, tp.Shutdown)

	mp, err := InitMeterProvider(ctx, cfg, conn)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.shutdown = append(p.shutdown, mp.Shutdown)

	// Logger last so its records correlate with the providers above.
	lp, logger, err := InitLoggerProvider(ctx, cfg, conn)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.shutdown = append(p.shutdown, lp.Shutdown)
	p.Logger = logger

	p.Metrics, err = NewMetrics(mp.Meter(cfg.ServiceName))
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	return p, nil
}

// Shutdown flushes and stops the providers in reverse order of installation.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
