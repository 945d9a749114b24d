package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/nodepool/common/endpoints"
	rmerrors "github.com/twitter/nodepool/common/errors"
	rmlog "github.com/twitter/nodepool/common/log"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/config/rmconfig"
	"github.com/twitter/nodepool/rm/core"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/infrastructure/hosts"
	"github.com/twitter/nodepool/rm/infrastructure/local"
	"github.com/twitter/nodepool/rm/liveness"
	"github.com/twitter/nodepool/rm/nodesource"
	"github.com/twitter/nodepool/rm/recovery"
)

const shutdownTimeout = 10 * time.Second

type serveCmd struct {
	hostName string
}

func (c *serveCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "serve",
		Short: "recover the node pool and serve it until interrupted",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.hostName, "host", "", "name of the host local nodes run on, defaults to the hostname")
	return r
}

func (c *serveCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := cl.config()
	if err != nil {
		return err
	}
	if err := rmlog.Setup(cfg.LogLevel); err != nil {
		return rmerrors.NewError(err, rmerrors.ConfigFailureExitCode)
	}
	hostName := c.hostName
	if hostName == "" {
		if hostName, err = os.Hostname(); err != nil {
			hostName = "localhost"
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := startServer(ctx, cfg, local.NewHost(hostName), stats.DefaultStatsReceiver())
	if err != nil {
		return err
	}
	served := make(chan error, 1)
	go func() { served <- s.admin.Serve() }()

	select {
	case <-ctx.Done():
		log.Info("Interrupted, shutting down")
	case err = <-served:
		if err != nil {
			err = rmerrors.NewError(err, rmerrors.AdminServerFailureExitCode)
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.close(sctx)
	return err
}

// server is one running manager and everything wired around it.
type server struct {
	cfg        rmconfig.Config
	store      db.Gateway
	closeStore func() error
	bus        *events.Bus
	forwarder  *events.NATSForwarder
	m          *core.Manager
	pinger     *liveness.Pinger
	admin      *endpoints.AdminServer
}

// startServer opens the store, recovers the manager, creates the configured
// node sources and starts liveness checks. The admin server is built but not
// yet serving.
func startServer(ctx context.Context, cfg rmconfig.Config, host *local.Host, stat stats.StatsReceiver) (_ *server, err error) {
	s := &server{cfg: cfg}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	if s.store, s.closeStore, err = openStore(cfg.Database); err != nil {
		return nil, err
	}

	types := nodesource.NewTypes()
	local.Register(types, host)
	hosts.Register(types)

	s.bus = events.NewBus(stat)
	if cfg.Events.NATSURL != "" {
		s.forwarder, err = events.NewNATSForwarder(cfg.Events.NATSURL, cfg.Events.Subject, s.bus, stat)
		if err != nil {
			return nil, rmerrors.NewError(err, rmerrors.EventsInitFailureExitCode)
		}
	}

	opts := core.DefaultOptions()
	opts.Persistence = cfg.Persistence
	opts.Selection = cfg.Selection
	opts.Bus = s.bus
	opts.Stat = stat
	if s.m, err = core.NewManager(types, s.store, opts); err != nil {
		return nil, rmerrors.NewError(err, rmerrors.ConfigFailureExitCode)
	}

	prober := liveness.NewMux()
	prober.Handle(local.Scheme, local.NewHosts(host))
	prober.Handle("http", liveness.NewHTTPProber())
	prober.Handle("https", liveness.NewHTTPProber())
	prober.Handle("grpc", liveness.GRPCProber{})

	retry := db.RetryPolicy{
		InitialInterval: cfg.Persistence.InitialInterval,
		MaxInterval:     cfg.Persistence.MaxInterval,
		MaxElapsedTime:  cfg.Persistence.MaxElapsedTime,
	}
	report, err := recovery.NewCoordinator(s.m, prober, cfg.Recovery, retry, stat).Run(ctx)
	if err != nil {
		return nil, rmerrors.NewError(err, rmerrors.RecoveryFailureExitCode)
	}
	log.WithFields(log.Fields{
		"nodeSources": report.NodeSources,
		"alive":       report.Alive,
		"down":        report.Down,
		"broken":      len(report.Broken),
		"duration":    report.Duration,
	}).Info("Recovered")

	if err := s.createSources(ctx); err != nil {
		return nil, rmerrors.NewError(err, rmerrors.NodeSourceSetupFailureExitCode)
	}

	s.pinger = liveness.NewPinger(prober,
		liveness.ProbeConfig{
			Timeout:         cfg.Liveness.Timeout,
			Concurrency:     cfg.Liveness.Workers,
			ProbesPerSecond: cfg.Liveness.ProbesPerSecond,
		},
		cfg.Liveness.Interval,
		s.m.AliveNodeURLs,
		func(url string, cause error) {
			if err := s.m.SetNodeDown(context.Background(), url, cause); err != nil {
				log.WithFields(log.Fields{"node": url, "err": err}).Info("Failed to mark node down")
			}
		},
		stat)
	s.pinger.WatchDead(s.m.DownNodeURLs, func(url string) {
		if err := s.m.SetNodeAvailable(context.Background(), url); err != nil {
			log.WithFields(log.Fields{"node": url, "err": err}).Info("Failed to restore node")
		}
	})
	s.pinger.Start()

	s.admin = endpoints.NewAdminServer(cfg.Admin.Addr, stat, s.m.Ready)
	s.admin.Handle("/admin/nodes", s.nodesHandler)
	s.admin.Handle("/admin/nodesources", s.sourcesHandler)
	s.admin.Handle("/admin/history", s.historyHandler)
	s.admin.Handle("/admin/debug", s.debugHandler)
	return s, nil
}

// createSources creates the configured node sources that recovery did not
// bring back.
func (s *server) createSources(ctx context.Context) error {
	existing := map[string]bool{}
	for _, sum := range s.m.ListNodeSources() {
		existing[sum.Definition.Name] = true
	}
	for _, c := range s.cfg.NodeSources {
		if existing[c.Name] {
			continue
		}
		def := nodesource.Definition{
			Name:                 c.Name,
			InfrastructureType:   c.InfrastructureType,
			InfrastructureParams: c.InfrastructureParams,
			PolicyType:           c.PolicyType,
			PolicyParams:         c.PolicyParams,
			Provider:             c.Provider,
			NodesRecoverable:     c.NodesRecoverable,
		}
		if err := s.m.CreateNodeSource(ctx, def, true); err != nil {
			return fmt.Errorf("creating node source %s: %v", c.Name, err)
		}
	}
	return nil
}

func (s *server) close(ctx context.Context) {
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			log.Infof("Admin server shutdown: %v", err)
		}
	}
	if s.pinger != nil {
		s.pinger.Stop()
	}
	if s.m != nil {
		if err := s.m.Shutdown(ctx); err != nil {
			log.Infof("Manager shutdown: %v", err)
		}
	}
	if s.forwarder != nil {
		s.forwarder.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			log.Infof("Closing store: %v", err)
		}
	}
}

func (s *server) nodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.m.GetAllNodes()
	s.reply(w, nodes, err)
}

func (s *server) sourcesHandler(w http.ResponseWriter, r *http.Request) {
	s.reply(w, s.m.ListNodeSources(), nil)
}

func (s *server) historyHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.m.ListNodeHistory(r.Context(), r.URL.Query().Get("url"))
	s.reply(w, history, err)
}

func (s *server) debugHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.m.Dump())
}

func (s *server) reply(w http.ResponseWriter, v interface{}, err error) {
	switch {
	case err == nil:
	case rmerrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := writeJSON(w, v); err != nil {
		log.Infof("Failed to write reply: %v", err)
	}
}
