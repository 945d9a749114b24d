package liveness

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
)

func fakeProber(dead ...string) Prober {
	down := map[string]bool{}
	for _, d := range dead {
		down[d] = true
	}
	return ProberFunc(func(ctx context.Context, url string) error {
		if down[url] {
			return rmerrors.NewLivenessTimeout(url, context.DeadlineExceeded)
		}
		return nil
	})
}

func TestProbeAllReportsOnlyFailures(t *testing.T) {
	urls := []string{"local://h/ns1/a", "local://h/ns1/b", "local://h/ns1/c"}
	failed := ProbeAll(context.Background(), fakeProber("local://h/ns1/b"), urls,
		ProbeConfig{Timeout: time.Second, Concurrency: 2})
	assert.Len(t, failed, 1)
	assert.True(t, rmerrors.IsLivenessTimeout(failed["local://h/ns1/b"]))
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	hang := ProberFunc(func(ctx context.Context, url string) error {
		<-ctx.Done()
		return rmerrors.NewLivenessTimeout(url, ctx.Err())
	})
	start := time.Now()
	failed := ProbeAll(context.Background(), hang, []string{"a", "b"},
		ProbeConfig{Timeout: 20 * time.Millisecond, Concurrency: 2})
	assert.Len(t, failed, 2)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
}

func TestProbeAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failed := ProbeAll(ctx, fakeProber(), []string{"a", "b", "c"}, ProbeConfig{Timeout: time.Second, Concurrency: 1})
	assert.Len(t, failed, 3)
}

func TestMuxRoutesByScheme(t *testing.T) {
	m := NewMux()
	m.Handle("local", fakeProber("local://h/ns1/dead"))
	ctx := context.Background()
	assert.NoError(t, m.Ping(ctx, "local://h/ns1/a"))
	assert.Error(t, m.Ping(ctx, "local://h/ns1/dead"))
	err := m.Ping(ctx, "ssh://h/ns1/a")
	assert.True(t, rmerrors.IsLivenessTimeout(err), "unrouted scheme: %v", err)
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sick") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Ping(ctx, srv.URL+"/ok"))
	assert.True(t, rmerrors.IsLivenessTimeout(p.Ping(ctx, srv.URL+"/sick")))
}

func TestGRPCProber(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go s.Serve(lis)
	defer s.Stop()

	url := "grpc://" + lis.Addr().String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, GRPCProber{}.Ping(ctx, url))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.True(t, rmerrors.IsLivenessTimeout(GRPCProber{}.Ping(ctx, url)))
}

func TestPingerRound(t *testing.T) {
	var mu sync.Mutex
	var down []string
	stat := stats.DefaultStatsReceiver()
	p := NewPinger(fakeProber("b"), ProbeConfig{Timeout: time.Second, Concurrency: 4}, time.Hour,
		func() []string { return []string{"a", "b", "c"} },
		func(url string, err error) {
			mu.Lock()
			down = append(down, url)
			mu.Unlock()
		}, stat)

	p.Round(context.Background())
	assert.Equal(t, []string{"b"}, down)
	assert.EqualValues(t, 3, stat.Scope("liveness").Counter(stats.LivenessProbesCounter).Count())
	assert.EqualValues(t, 1, stat.Scope("liveness").Counter(stats.LivenessProbeFailuresCounter).Count())
}

func TestPingerRoundReportsReturningNodes(t *testing.T) {
	var mu sync.Mutex
	var down, back []string
	stat := stats.DefaultStatsReceiver()
	p := NewPinger(fakeProber("b", "y"), ProbeConfig{Timeout: time.Second, Concurrency: 4}, time.Hour,
		func() []string { return []string{"a", "b"} },
		func(url string, err error) {
			mu.Lock()
			down = append(down, url)
			mu.Unlock()
		}, stat)
	p.WatchDead(func() []string { return []string{"x", "y"} }, func(url string) {
		mu.Lock()
		back = append(back, url)
		mu.Unlock()
	})

	p.Round(context.Background())
	assert.Equal(t, []string{"b"}, down)
	assert.Equal(t, []string{"x"}, back)
	scoped := stat.Scope("liveness")
	assert.EqualValues(t, 4, scoped.Counter(stats.LivenessProbesCounter).Count())
	assert.EqualValues(t, 1, scoped.Counter(stats.LivenessProbeFailuresCounter).Count())
	assert.EqualValues(t, 1, scoped.Counter(stats.LivenessRecoveredCounter).Count())
}

func TestPingerLoop(t *testing.T) {
	calls := make(chan string, 16)
	p := NewPinger(fakeProber("a"), ProbeConfig{Timeout: time.Second, Concurrency: 1}, 5*time.Millisecond,
		func() []string { return []string{"a"} },
		func(url string, err error) {
			select {
			case calls <- url:
			default:
			}
		}, stats.NilStatsReceiver())
	p.Start()
	select {
	case u := <-calls:
		assert.Equal(t, "a", u)
	case <-time.After(5 * time.Second):
		t.Fatal("pinger never reported the dead node")
	}
	p.Stop()
}
