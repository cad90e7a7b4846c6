package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"organlink/pkg/platform/httputil"
	"organlink/pkg/requestcontext"
)

type Middleware struct {
	store  Store
	limits map[Class]Limit
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Middleware)

func WithLimit(class Class, limit Limit) Option {
	return func(m *Middleware) {
		if limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store: store,
		limits: map[Class]Limit{
			ClassRead:  {Requests: 120, Window: time.Minute},
			ClassWrite: {Requests: 30, Window: time.Minute},
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler limits each caller by authenticated user, or by client IP when the
// request carries no user. Safe methods count against ClassRead, the rest
// against ClassWrite. Store failures let the request through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := ClassWrite
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			class = ClassRead
		}
		limit := m.limits[class]
		subject := callerOf(r)

		res, err := m.store.Allow(r.Context(), key(class, subject), limit)
		if err != nil {
			m.logger.WarnContext(r.Context(), "rate limit check failed", "error", err, "class", class)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := res.RetryAfter(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "rate_limit_exceeded",
				"error_description": "too many requests, retry later",
				"retry_after":       retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerOf(r *http.Request) string {
	if userID := requestcontext.UserID(r.Context()); !userID.IsNil() {
		return "user:" + userID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
