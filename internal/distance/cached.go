package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
)

const cacheKeyPrefix = "organlink:route:"

// Cached memoizes a provider in Redis. Coordinates are rounded to four
// decimals (~11 m) before keying. Cache errors fall through to the provider.
type Cached struct {
	next   ports.DistanceProvider
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next ports.DistanceProvider, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

type cachedRoute struct {
	DistanceKm float64 `json:"distance_km"`
	DurationMs int64   `json:"duration_ms"`
}

func (c *Cached) Distance(ctx context.Context, from, to models.Location) (ports.Route, error) {
	key := cacheKey(from, to)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var hit cachedRoute
		if jsonErr := json.Unmarshal(raw, &hit); jsonErr == nil {
			return ports.Route{
				DistanceKm: hit.DistanceKm,
				Duration:   time.Duration(hit.DurationMs) * time.Millisecond,
			}, nil
		}
		c.logger.WarnContext(ctx, "discarding malformed route cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "route cache read failed", "error", err)
	}

	route, err := c.next.Distance(ctx, from, to)
	if err != nil {
		return ports.Route{}, err
	}

	payload, err := json.Marshal(cachedRoute{DistanceKm: route.DistanceKm, DurationMs: route.Duration.Milliseconds()})
	if err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "route cache write failed", "error", err)
		}
	}
	return route, nil
}

func cacheKey(from, to models.Location) string {
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, roundedCoord(from), roundedCoord(to))
}

func roundedCoord(l models.Location) string {
	round := func(v float64) float64 { return math.Round(v*1e4) / 1e4 }
	return fmt.Sprintf("%.4f,%.4f", round(l.Lat), round(l.Lng))
}
