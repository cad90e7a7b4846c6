package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"organlink/internal/allocation/metrics"
	"organlink/internal/allocation/ports"
	"organlink/internal/allocation/service"
	"organlink/internal/allocation/store/memory"
	"organlink/internal/allocation/store/sqlstore"
	"organlink/internal/anchor"
	"organlink/internal/distance"
	"organlink/internal/notify"
	"organlink/internal/platform/config"
	"organlink/internal/platform/redis"
	"organlink/internal/ratelimit"
	"organlink/pkg/platform/circuit"
)

// closers releases resources in reverse order of acquisition.
type closers struct {
	fns []func(ctx context.Context) error
}

func (c *closers) add(fn func(ctx context.Context) error) {
	c.fns = append(c.fns, fn)
}

func (c *closers) closeAll(log *slog.Logger) {
	ctx := context.Background()
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](ctx); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.Store, deps *closers) (service.Store, error) {
	if cfg.Driver == config.StoreMemory {
		return memory.NewInMemory(), nil
	}
	store, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	deps.add(func(context.Context) error { return store.Close() })
	return store, nil
}

// openRedis returns nil when REDIS_URL is unset.
func openRedis(cfg config.RedisConfig, deps *closers) (*redis.Client, error) {
	client, err := redis.New(cfg)
	if err != nil || client == nil {
		return nil, err
	}
	deps.add(func(context.Context) error { return client.Close() })
	return client, nil
}

// buildDistance layers the route service: HTTP client behind a breaker with
// a great-circle fallback, then an optional Redis cache in front. Without a
// route service the great-circle estimate is used directly.
func buildDistance(cfg config.Distance, cache *redis.Client, log *slog.Logger) ports.DistanceProvider {
	fallback := distance.Haversine{SpeedKmh: cfg.FallbackSpeedKmh}
	if cfg.RouteURL == "" {
		return fallback
	}

	route := distance.NewRouteClient(cfg.RouteURL,
		distance.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	breaker := circuit.New("route-service",
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithCooldown(cfg.Cooldown),
	)
	var provider ports.DistanceProvider = distance.NewFallback(route, fallback, breaker, log)
	if cache != nil {
		provider = distance.NewCached(provider, cache.Client, cfg.CacheTTL, log)
	}
	return provider
}

// buildRateLimit returns nil when limiting is disabled. Budgets are shared
// through Redis when available, per instance otherwise.
func buildRateLimit(cfg config.RateLimit, shared *redis.Client, log *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return nil
	}
	var store ratelimit.Store = ratelimit.NewMemory()
	if shared != nil {
		store = ratelimit.NewRedis(shared.Client)
	}
	mw := ratelimit.New(store, log,
		ratelimit.WithLimit(ratelimit.ClassRead, ratelimit.Limit{Requests: cfg.ReadRequests, Window: cfg.Window}),
		ratelimit.WithLimit(ratelimit.ClassWrite, ratelimit.Limit{Requests: cfg.WriteRequests, Window: cfg.Window}),
	)
	return mw.Handler
}

func buildAnchor(ctx context.Context, cfg config.Anchor, deps *closers) (ports.AuditSink, error) {
	switch cfg.Driver {
	case config.AnchorLevelDB:
		db, err := anchor.OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		deps.add(func(context.Context) error { return db.Close() })
		return db, nil
	case config.AnchorS3:
		return anchor.NewS3(ctx, anchor.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, nil
	}
}

// buildNotifier returns the notifier the service enqueues into and the loop
// that drains it.
func buildNotifier(ctx context.Context, cfg config.Kafka, log *slog.Logger, m *metrics.Metrics, deps *closers) (ports.Notifier, func(context.Context) error, error) {
	var downstream ports.Notifier = notify.NewLog(log)
	if len(cfg.Brokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers:           cfg.Brokers,
			Topic:             cfg.Topic,
			ClientID:          cfg.ClientID,
			Partitions:        cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		}, notify.WithKafkaLogger(log), notify.WithDeliveryFailureHook(m.IncrementNotifyFailures))
		if err != nil {
			return nil, nil, err
		}
		if err := k.EnsureTopic(ctx, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			_ = k.Close(ctx)
			return nil, nil, err
		}
		deps.add(k.Close)
		downstream = k
	}
	q := notify.NewQueue(downstream, cfg.QueueSize, log)
	return q, q.Run, nil
}

// startNotifier runs the notifier loop on its own context so it outlives the
// signal context while the HTTP server finishes in-flight requests. stop
// cancels the loop and waits until the buffer has been handed off.
func startNotifier(run func(context.Context) error, log *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("notification queue stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
