package distance

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
	"organlink/pkg/platform/circuit"
)

// Fallback routes through primary while its breaker is closed and answers
// from secondary otherwise, or when a single primary call fails.
type Fallback struct {
	primary   ports.DistanceProvider
	secondary ports.DistanceProvider
	breaker   *circuit.Breaker
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewFallback(primary, secondary ports.DistanceProvider, breaker *circuit.Breaker, logger *slog.Logger) *Fallback {
	if breaker == nil {
		breaker = circuit.New("route")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		breaker:   breaker,
		logger:    logger,
		tracer:    otel.Tracer("organlink/distance"),
	}
}

func (f *Fallback) Distance(ctx context.Context, from, to models.Location) (ports.Route, error) {
	ctx, span := f.tracer.Start(ctx, "distance.lookup")
	defer span.End()

	if !f.breaker.Allow() {
		span.SetAttributes(attribute.String("distance.source", "fallback"), attribute.Bool("distance.circuit_open", true))
		return f.secondary.Distance(ctx, from, to)
	}

	route, err := f.primary.Distance(ctx, from, to)
	if err == nil {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "route service recovered", "breaker", f.breaker.Name())
		}
		span.SetAttributes(attribute.String("distance.source", "primary"))
		return route, nil
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, ctx.Err().Error())
		return ports.Route{}, err
	}

	if _, change := f.breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "route service circuit opened", "breaker", f.breaker.Name(), "error", err)
	} else {
		f.logger.DebugContext(ctx, "route lookup failed, using fallback", "error", err)
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("distance.source", "fallback"))
	return f.secondary.Distance(ctx, from, to)
}
