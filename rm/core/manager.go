// Package core holds the Manager, the one value that owns the node registry
// and the node source table and exposes every operation on them.
//
// Every durable change goes through the store before it is committed to the
// registry. A change the store keeps refusing is committed as pending: the
// node is reported DOWN-pending, is never handed out, and the write is
// retried in the background until it lands.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/config/rmconfig"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
	"github.com/twitter/nodepool/rm/registry"
	"github.com/twitter/nodepool/rm/selection"
)

type Options struct {
	Persistence rmconfig.PersistenceConfig
	Selection   rmconfig.SelectionConfig
	// Runs selection scripts. Requests with scripts fail without one.
	Evaluator selection.Evaluator
	// Receives every node and node source event. Optional.
	Bus   *events.Bus
	Stat  stats.StatsReceiver
	Clock stats.StatsTime
}

func DefaultOptions() Options {
	cfg := rmconfig.Default()
	return Options{
		Persistence: cfg.Persistence,
		Selection:   cfg.Selection,
		Stat:        stats.NilStatsReceiver(),
		Clock:       stats.DefaultStatsTime(),
	}
}

type pendingOp int

const (
	pendingUpsert pendingOp = iota
	pendingDelete
)

type Manager struct {
	types    *nodesource.Types
	store    db.Gateway
	nodes    *registry.Registry
	selector *selection.Manager
	bus      *events.Bus
	stat     stats.StatsReceiver
	clock    stats.StatsTime
	retry    db.RetryPolicy

	mu      sync.RWMutex
	sources map[string]*nodesource.NodeSource
	// Serializes policy admission so concurrent offers see each other.
	acquireMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]pendingOp

	ready    int32
	shutdown int32

	// Background deployments and the pending loop run under ctx.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager returns a manager that refuses requests until SetReady is
// called, normally by recovery.
func NewManager(types *nodesource.Types, store db.Gateway, opts Options) (*Manager, error) {
	if opts.Stat == nil {
		opts.Stat = stats.NilStatsReceiver()
	}
	if opts.Clock == nil {
		opts.Clock = stats.DefaultStatsTime()
	}
	stat := opts.Stat.Scope("manager")
	selector, err := selection.NewManager(opts.Selection, opts.Evaluator, opts.Stat, opts.Clock)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		types:    types,
		store:    store,
		nodes:    registry.New(),
		selector: selector,
		bus:      opts.Bus,
		stat:     stat,
		clock:    opts.Clock,
		retry: db.RetryPolicy{
			InitialInterval: opts.Persistence.InitialInterval,
			MaxInterval:     opts.Persistence.MaxInterval,
			MaxElapsedTime:  opts.Persistence.MaxElapsedTime,
		},
		sources: map[string]*nodesource.NodeSource{},
		pending: map[string]pendingOp{},
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.Persistence.PendingRetryInterval > 0 {
		m.wg.Add(1)
		go m.pendingLoop(opts.Persistence.PendingRetryInterval)
	}
	return m, nil
}

func (m *Manager) Types() *nodesource.Types { return m.types }

func (m *Manager) Store() db.Gateway { return m.store }

func (m *Manager) Selector() *selection.Manager { return m.selector }

// SetReady opens the manager to requests.
func (m *Manager) SetReady() {
	atomic.StoreInt32(&m.ready, 1)
	m.stat.Gauge(stats.ManagerReadyGauge).Update(1)
	m.updateGauges()
	log.Info("resource manager is ready")
}

func (m *Manager) Ready() bool {
	return atomic.LoadInt32(&m.ready) == 1 && atomic.LoadInt32(&m.shutdown) == 0
}

func (m *Manager) checkReady() error {
	if atomic.LoadInt32(&m.shutdown) == 1 {
		return rmerrors.ErrShutdown
	}
	if atomic.LoadInt32(&m.ready) == 0 {
		return rmerrors.ErrNotReady
	}
	return nil
}

// Install replaces the node source table and the registry in one step. It is
// how recovery hands over the state it rebuilt; it must run before SetReady.
func (m *Manager) Install(sources []*nodesource.NodeSource, nodes []node.Node) {
	table := make(map[string]*nodesource.NodeSource, len(sources))
	for _, ns := range sources {
		table[ns.Name()] = ns
	}
	m.mu.Lock()
	m.sources = table
	m.mu.Unlock()
	m.nodes.Replace(nodes)
	m.updateGauges()
}

// Shutdown stops background work. Nodes are left running so a later
// manager can recover them.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.shutdown, 0, 1) {
		return nil
	}
	m.stat.Gauge(stats.ManagerReadyGauge).Update(0)
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := m.PendingCount(); n > 0 {
		log.Warnf("shutting down with %d changes not persisted", n)
	}
	return nil
}

func (m *Manager) pendingLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.FlushPending(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) publish(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

func (m *Manager) updateGauges() {
	counts := map[node.State]int64{}
	var locked, pending int64
	for _, n := range m.nodes.All() {
		counts[n.State]++
		if n.Locked {
			locked++
		}
		if n.Pending {
			pending++
		}
	}
	m.stat.Gauge(stats.ManagerNodesDeployingGauge).Update(counts[node.Deploying])
	m.stat.Gauge(stats.ManagerNodesFreeGauge).Update(counts[node.Free])
	m.stat.Gauge(stats.ManagerNodesBusyGauge).Update(counts[node.Busy])
	m.stat.Gauge(stats.ManagerNodesToReleaseGauge).Update(counts[node.ToRelease])
	m.stat.Gauge(stats.ManagerNodesDownGauge).Update(counts[node.Down])
	m.stat.Gauge(stats.ManagerNodesLockedGauge).Update(locked)
	m.stat.Gauge(stats.ManagerNodesPendingGauge).Update(pending)
	m.mu.RLock()
	m.stat.Gauge(stats.ManagerNodeSourcesGauge).Update(int64(len(m.sources)))
	m.mu.RUnlock()
}

// Dump renders the registry for debugging.
func (m *Manager) Dump() string {
	return spew.Sdump(m.nodes.All())
}
