// Package connectivity decides whether the remote store is actually
// reachable. The operating system's link state is never trusted on its own:
// every decision comes from a real probe.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	DefaultPrimaryTimeout   = 5 * time.Second
	DefaultSecondaryTimeout = 3 * time.Second
)

// Prober answers "can we reach the network right now". Implementations
// never return an error: any failure, including a panic, is false.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// StaticProber always reports the same answer. Used by the memory remote
// mode and in tests.
type StaticProber bool

func (s StaticProber) Probe(context.Context) bool { return bool(s) }

// HTTPProber sends a cache-bypassing HEAD request. Any HTTP response,
// whatever its status, proves reachability.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPProber(target string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{URL: target, Timeout: timeout, Client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	u, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// GRPCHealthProber calls grpc.health.v1.Health/Check and requires SERVING.
type GRPCHealthProber struct {
	Target  string
	Service string
	Timeout time.Duration
}

func NewGRPCHealthProber(target string, timeout time.Duration) *GRPCHealthProber {
	return &GRPCHealthProber{Target: target, Timeout: timeout}
}

func (p *GRPCHealthProber) Probe(ctx context.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := grpc.NewClient(p.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// FallbackProber tries each prober in order and stops at the first success.
// The worst case is the sum of the individual timeouts.
type FallbackProber struct {
	Probers []Prober
}

func (f FallbackProber) Probe(ctx context.Context) bool {
	for _, p := range f.Probers {
		if ctx.Err() != nil {
			return false
		}
		if p.Probe(ctx) {
			return true
		}
	}
	return false
}

// Target is a configured probe endpoint.
type Target struct {
	URL     string
	Timeout time.Duration
}

// NewProber builds a FallbackProber from targets. Supported schemes:
// http and https (HEAD request), grpc (health check against host:port) and
// static (static:online or static:offline).
func NewProber(targets []Target) (Prober, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no connectivity targets configured")
	}

	var probers []Prober
	for i, t := range targets {
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = DefaultSecondaryTimeout
			if i == 0 {
				timeout = DefaultPrimaryTimeout
			}
		}

		scheme, rest, _ := strings.Cut(t.URL, ":")
		switch strings.ToLower(scheme) {
		case "http", "https":
			probers = append(probers, NewHTTPProber(t.URL, timeout))
		case "grpc":
			probers = append(probers, NewGRPCHealthProber(strings.TrimPrefix(rest, "//"), timeout))
		case "static":
			switch rest {
			case "online":
				probers = append(probers, StaticProber(true))
			case "offline":
				probers = append(probers, StaticProber(false))
			default:
				return nil, fmt.Errorf("static target must be static:online or static:offline, got %q", t.URL)
			}
		default:
			return nil, fmt.Errorf("unsupported connectivity target %q", t.URL)
		}
	}

	if len(probers) == 1 {
		return probers[0], nil
	}
	return FallbackProber{Probers: probers}, nil
}
