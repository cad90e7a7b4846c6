package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
)

const (
	defaultRouteTimeout = 3 * time.Second
	maxRouteBody        = 1 << 20
)

// RouteClient asks an OSRM-compatible routing service for driving distance.
type RouteClient struct {
	baseURL string
	profile string
	http    *http.Client
}

type RouteOption func(*RouteClient)

// WithHTTPClient replaces the default client (3s timeout).
func WithHTTPClient(c *http.Client) RouteOption {
	return func(r *RouteClient) {
		if c != nil {
			r.http = c
		}
	}
}

func WithProfile(profile string) RouteOption {
	return func(r *RouteClient) {
		if profile != "" {
			r.profile = profile
		}
	}
}

func NewRouteClient(baseURL string, opts ...RouteOption) *RouteClient {
	r := &RouteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		http:    &http.Client{Timeout: defaultRouteTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (r *RouteClient) Distance(ctx context.Context, from, to models.Location) (ports.Route, error) {
	endpoint := fmt.Sprintf("%s/route/v1/%s/%s;%s?overview=false",
		r.baseURL, url.PathEscape(r.profile), coord(from), coord(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.Route{}, newError(CategoryInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isTimeout(err) {
			return ports.Route{}, newError(CategoryTimeout, "route request", err)
		}
		return ports.Route{}, newError(CategoryOutage, "route request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return ports.Route{}, newError(CategoryOutage, fmt.Sprintf("route service returned %d", resp.StatusCode), nil)
	}

	var body routeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRouteBody)).Decode(&body); err != nil {
		return ports.Route{}, newError(CategoryBadData, "decode route response", err)
	}
	if body.Code != "Ok" {
		if body.Code == "NoRoute" {
			return ports.Route{}, newError(CategoryNoRoute, body.Message, nil)
		}
		return ports.Route{}, newError(CategoryBadData, fmt.Sprintf("route code %q (http %d)", body.Code, resp.StatusCode), nil)
	}
	if len(body.Routes) == 0 {
		return ports.Route{}, newError(CategoryNoRoute, "no routes returned", nil)
	}

	best := body.Routes[0]
	if best.Distance < 0 || best.Duration < 0 {
		return ports.Route{}, newError(CategoryBadData, "negative route metrics", nil)
	}
	return ports.Route{
		DistanceKm: best.Distance / 1000,
		Duration:   time.Duration(best.Duration * float64(time.Second)),
	}, nil
}

// OSRM takes lng,lat.
func coord(l models.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Lng, l.Lat)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
