// Package liveness checks that nodes still answer. A probe that fails or does
// not answer within its timeout counts as a failure; there is no other
// cancellation of in-flight probes.
package liveness

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

// Prober answers whether the node at url is alive. Implementations must
// return promptly once ctx is done.
type Prober interface {
	Ping(ctx context.Context, url string) error
}

type ProberFunc func(ctx context.Context, url string) error

func (f ProberFunc) Ping(ctx context.Context, url string) error { return f(ctx, url) }

// Mux dispatches on the URL scheme.
type Mux struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

func NewMux() *Mux {
	return &Mux{probers: map[string]Prober{}}
}

func (m *Mux) Handle(scheme string, p Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probers[scheme] = p
}

func (m *Mux) Ping(ctx context.Context, nodeURL string) error {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	m.mu.RLock()
	p, ok := m.probers[u.Scheme]
	m.mu.RUnlock()
	if !ok {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("no prober for scheme %q", u.Scheme))
	}
	return p.Ping(ctx, nodeURL)
}

// HTTPProber sends GET to the node URL; any 2xx answer means alive.
type HTTPProber struct {
	client *pester.Client
}

func NewHTTPProber() *HTTPProber {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	// the probe timeout bounds the call, retries would only overrun it
	client.MaxRetries = 1
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("probe attempt failed: %+v", e)
	}
	return &HTTPProber{client: client}
}

func (p *HTTPProber) Ping(ctx context.Context, nodeURL string) error {
	req, err := http.NewRequest("GET", nodeURL, nil)
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	resp, err := p.client.Do(req.WithContext(ctx))
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// GRPCProber calls the standard health service at grpc://host:port.
type GRPCProber struct{}

func (GRPCProber) Ping(ctx context.Context, nodeURL string) error {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	cc, err := grpc.NewClient(u.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	defer cc.Close()
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("health status %s", resp.Status))
	}
	return nil
}
