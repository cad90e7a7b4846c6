package notify

import (
	"context"
	"log/slog"
	"sync"

	"organlink/internal/allocation/models"
)

// Log writes notifications to the logger. Used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Enqueue(ctx context.Context, n models.Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"user_id", n.UserID.String(),
		"allocation_id", n.AllocationID.String(),
		"kind", n.Kind,
		"message", n.Message,
	)
	return nil
}

// Memory keeps notifications in process.
type Memory struct {
	mu   sync.Mutex
	sent []models.Notification
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *Memory) Sent() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
