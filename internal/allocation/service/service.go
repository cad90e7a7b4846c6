package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"organlink/internal/allocation/chain"
	allocmetrics "organlink/internal/allocation/metrics"
	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
	"organlink/pkg/attrs"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/requestcontext"
)

// Store persists allocation entities. Save methods use optimistic revisions:
// revision 0 inserts, otherwise the stored revision must match or the call
// fails with sentinel.ErrConflict. Writes made with the context passed to
// RunInTx's callback commit atomically.
type Store interface {
	FindOrgan(ctx context.Context, organID id.OrganID) (*models.Organ, error)
	FindRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindAllocation(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error)
	FindConsent(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)
	FindUser(ctx context.Context, userID id.UserID) (*models.User, error)

	SaveOrgan(ctx context.Context, organ *models.Organ) error
	SaveRequest(ctx context.Context, request *models.Request) error
	SaveAllocation(ctx context.Context, allocation *models.Allocation) error
	SaveConsent(ctx context.Context, consent *models.Consent) error
	SaveUser(ctx context.Context, user *models.User) error

	ListOrgans(ctx context.Context, filter models.OrganFilter) ([]*models.Organ, error)
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error)
	ListAllocations(ctx context.Context, filter models.AllocationFilter) ([]*models.Allocation, error)

	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	defaultCandidateConcurrency = 8
	defaultDistanceTimeout      = 2 * time.Second
	defaultAnchorTimeout        = 2 * time.Second
)

// Service orchestrates the joint lifecycle of organs, requests and
// allocations. It is the only writer of their status fields.
type Service struct {
	store    Store
	distance ports.DistanceProvider
	notifier ports.Notifier
	recorder *chain.Recorder
	logger   *slog.Logger
	metrics  *allocmetrics.Metrics
	tracer   trace.Tracer
	locks    *shardedLock

	sink                 ports.AuditSink
	anchorTimeout        time.Duration
	lockTimeout          time.Duration
	candidateConcurrency int
	distanceTimeout      time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *allocmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithDistanceProvider enables distance-based scoring in candidate listings.
// Without one every candidate is INSUFFICIENT_DATA.
func WithDistanceProvider(p ports.DistanceProvider) Option {
	return func(s *Service) {
		s.distance = p
	}
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithAuditSink anchors every audit hash in sink, each call bounded by timeout.
func WithAuditSink(sink ports.AuditSink, timeout time.Duration) Option {
	return func(s *Service) {
		s.sink = sink
		if timeout > 0 {
			s.anchorTimeout = timeout
		}
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.lockTimeout = d
	}
}

func WithCandidateConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.candidateConcurrency = n
		}
	}
}

func WithDistanceTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.distanceTimeout = d
		}
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:                store,
		logger:               slog.Default(),
		anchorTimeout:        defaultAnchorTimeout,
		candidateConcurrency: defaultCandidateConcurrency,
		distanceTimeout:      defaultDistanceTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("organlink/allocation")
	}
	s.locks = newShardedLock(s.lockTimeout)
	s.recorder = chain.NewRecorder(s.sink,
		chain.WithTimeout(s.anchorTimeout),
		chain.WithLogger(s.logger),
		chain.WithFailureHook(s.metrics.IncrementAnchorFailures),
	)
	return s
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}

// observe wraps a use case in a span and records its outcome.
func (s *Service) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "allocation."+op)
	defer span.End()

	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.ObserveTransition(op, outcome, time.Since(start))
	return err
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, attrs.RequestID, requestID)
	}
	if allocationID, ok := attrs.String(attributes, attrs.AllocationID); ok {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("allocation.id", allocationID))
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

func (s *Service) notify(ctx context.Context, notifications []models.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range notifications {
		if err := s.notifier.Enqueue(ctx, n); err != nil {
			s.metrics.IncrementNotifyFailures()
			s.logger.WarnContext(ctx, "notification not enqueued",
				"user_id", n.UserID.String(),
				"allocation_id", n.AllocationID.String(),
				"kind", n.Kind,
				"error", err,
			)
		}
	}
}
