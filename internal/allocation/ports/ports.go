package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks DistanceProvider,AuditSink,Notifier

import (
	"context"
	"time"

	"organlink/internal/allocation/models"
)

// Route is a travel estimate between two locations.
type Route struct {
	DistanceKm float64
	Duration   time.Duration
}

// DistanceProvider estimates travel between two points. Results are advisory:
// callers degrade to "insufficient data" on error or timeout.
type DistanceProvider interface {
	Distance(ctx context.Context, from, to models.Location) (Route, error)
}

// AuditSink anchors an audit hash in an external tamper-evidence store and
// returns its reference. Best effort; failures never block a transition.
type AuditSink interface {
	Record(ctx context.Context, hash string) (string, error)
}

// Notifier enqueues a user notification. Fire-and-forget: errors are logged
// by the caller and never fail a transition.
type Notifier interface {
	Enqueue(ctx context.Context, n models.Notification) error
}
