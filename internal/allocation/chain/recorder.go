package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"organlink/internal/allocation/ports"
	"organlink/pkg/platform/circuit"
)

const defaultRecordTimeout = 2 * time.Second

var errBreakerOpen = errors.New("anchor sink circuit open")

// Recorder calls the sink with a timeout behind a circuit breaker. It never
// fails: on any problem the reference is empty and a warning is logged.
type Recorder struct {
	sink      ports.AuditSink
	timeout   time.Duration
	breaker   *circuit.Breaker
	logger    *slog.Logger
	onFailure func(reason string)
}

type RecorderOption func(*Recorder)

func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) RecorderOption {
	return func(r *Recorder) {
		r.breaker = b
	}
}

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithFailureHook is called with "timeout", "error" or "circuit_open".
func WithFailureHook(fn func(reason string)) RecorderOption {
	return func(r *Recorder) {
		r.onFailure = fn
	}
}

// NewRecorder wraps sink. A nil sink records nothing and returns "".
func NewRecorder(sink ports.AuditSink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:    sink,
		timeout: defaultRecordTimeout,
		breaker: circuit.New("audit-anchor"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record anchors hash and returns the external reference, or "" on failure.
func (r *Recorder) Record(ctx context.Context, hash string) string {
	if r == nil || r.sink == nil {
		return ""
	}
	ctx, span := otel.Tracer("organlink/chain").Start(ctx, "chain.Record")
	defer span.End()

	if !r.breaker.Allow() {
		r.fail(ctx, "circuit_open", hash, errBreakerOpen)
		span.SetStatus(codes.Error, "circuit open")
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ref, err := r.sink.Record(callCtx, hash)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.logger.WarnContext(ctx, "audit anchor circuit opened", "breaker", r.breaker.Name())
		}
		r.fail(ctx, reason, hash, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return ""
	}
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "audit anchor circuit closed", "breaker", r.breaker.Name())
	}
	span.SetAttributes(attribute.String("anchor.ref", ref))
	return ref
}

func (r *Recorder) fail(ctx context.Context, reason, hash string, err error) {
	r.logger.WarnContext(ctx, "audit anchor unavailable; entry stored without external reference",
		"reason", reason,
		"hash", hash,
		"error", err,
	)
	if r.onFailure != nil {
		r.onFailure(reason)
	}
}
