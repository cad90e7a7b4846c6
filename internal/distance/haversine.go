package distance

import (
	"context"
	"math"
	"time"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
)

const (
	earthRadiusKm       = 6371.0088
	defaultAverageSpeed = 60.0 // km/h
)

// Haversine estimates straight-line distance. It never fails and is the
// fallback when the route service is down.
type Haversine struct {
	SpeedKmh float64
}

func (h Haversine) Distance(ctx context.Context, from, to models.Location) (ports.Route, error) {
	if err := ctx.Err(); err != nil {
		return ports.Route{}, err
	}
	km := GreatCircleKm(from, to)
	speed := h.SpeedKmh
	if speed <= 0 {
		speed = defaultAverageSpeed
	}
	return ports.Route{
		DistanceKm: km,
		Duration:   time.Duration(km / speed * float64(time.Hour)),
	}, nil
}

func GreatCircleKm(from, to models.Location) float64 {
	lat1, lat2 := radians(from.Lat), radians(to.Lat)
	dLat := lat2 - lat1
	dLng := radians(to.Lng - from.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
