// Package endpoints serves the admin surface of a process: health, the
// StatsReceiver as JSON, and the same stats in prometheus format.
package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodepool/common/stats"
)

const metricsNamespace = "nodepool"

// ReadyFunc reports whether the process is ready to serve requests.
type ReadyFunc func() bool

type AdminServer struct {
	Addr   string
	Stats  stats.StatsReceiver
	router chi.Router
	http   *http.Server
}

// NewAdminServer builds the router. ready may be nil, meaning always ready.
// Extra routes are added with Handle before Serve is called.
func NewAdminServer(addr string, stat stats.StatsReceiver, ready ReadyFunc) *AdminServer {
	if ready == nil {
		ready = func() bool { return true }
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(stats.NewPrometheusCollector(metricsNamespace, stat))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s := &AdminServer{Addr: addr, Stats: stat, router: r}

	r.Get("/", helpHandler)
	r.Get("/health", healthHandler(ready))
	r.Get("/admin/metrics.json", s.statsHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handle mounts an extra GET route.
func (s *AdminServer) Handle(pattern string, h http.HandlerFunc) {
	s.router.Get(pattern, h)
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Serve blocks until the server stops. A graceful Shutdown is not an error.
func (s *AdminServer) Serve() error {
	log.Infof("Serving admin http & stats on %s", s.Addr)
	if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/metrics', '/admin/nodes', '/admin/nodesources'", 501)
}

func healthHandler(ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready() {
			http.Error(w, "recovering", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok")
	}
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := w.Write(s.Stats.Render(pretty)); err != nil {
		log.Infof("Failed to write stats: %v", err)
	}
}
