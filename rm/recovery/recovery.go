// Package recovery rebuilds the manager's state from the store after a
// restart. The manager accepts no request until Run has reconciled every
// node source.
package recovery

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/config/rmconfig"
	"github.com/twitter/nodepool/rm/core"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/liveness"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
)

// Report summarizes one recovery run.
type Report struct {
	NodeSources int
	// Sources whose infrastructure or policy could not be rebuilt. They stay
	// UNDEFINED and keep their nodes.
	Broken            map[string]error
	Alive             int
	Down              int
	Redeployed        int
	RemovalsCompleted int
	Duration          time.Duration
}

type Coordinator struct {
	m      *core.Manager
	prober liveness.Prober
	cfg    rmconfig.RecoveryConfig
	retry  db.RetryPolicy
	stat   stats.StatsReceiver
	clock  stats.StatsTime
}

func NewCoordinator(
	m *core.Manager,
	prober liveness.Prober,
	cfg rmconfig.RecoveryConfig,
	retry db.RetryPolicy,
	stat stats.StatsReceiver,
) *Coordinator {
	return &Coordinator{
		m:      m,
		prober: prober,
		cfg:    cfg,
		retry:  retry,
		stat:   stat.Scope("recovery"),
		clock:  stats.DefaultStatsTime(),
	}
}

// source is one recovered node source and the nodes stored for it.
type source struct {
	ns       *nodesource.NodeSource
	removing bool
	nodes    []node.Node
}

// Run reconciles the store with the live nodes and opens the manager.
// Running it again with no write in between gives the same registry.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	start := c.clock.Now()
	defer c.stat.Latency(stats.RecoveryLatency_ms).Time().Stop()
	report := Report{Broken: map[string]error{}}
	store := c.m.Store()

	if !c.cfg.Enabled {
		log.Warn("recovery disabled, dropping stored state")
		if err := c.clear(ctx, store); err != nil {
			return report, err
		}
		c.m.Install(nil, nil)
		c.m.SetReady()
		return report, nil
	}

	sources, err := c.loadSources(ctx, store, &report)
	if err != nil {
		return report, err
	}
	if err := c.loadNodes(ctx, store, sources); err != nil {
		return report, err
	}

	var probe, keep, drop, release []node.Node
	var redeploy []*source
	for _, name := range sortedNames(sources) {
		s := sources[name]
		if !s.removing && s.ns.Status() == nodesource.NodesDeployed {
			redeploy = append(redeploy, s)
		}
		switch {
		case s.removing:
			// finished by the manager once it owns the nodes again
			keep = append(keep, s.nodes...)
		case !s.ns.Definition().NodesRecoverable:
			drop = append(drop, s.nodes...)
			release = append(release, s.nodes...)
		default:
			probe = append(probe, s.nodes...)
		}
	}

	failed := liveness.ProbeAll(ctx, c.prober, urls(probe), liveness.ProbeConfig{
		Timeout:         c.cfg.ProbeTimeout,
		Concurrency:     c.cfg.Concurrency,
		ProbesPerSecond: c.cfg.ProbesPerSecond,
	})
	if err := ctx.Err(); err != nil {
		return report, err
	}

	now := c.clock.Now()
	var changed []node.Node
	for _, n := range probe {
		if releasing(n) {
			drop = append(drop, n)
			release = append(release, n)
			report.RemovalsCompleted++
			continue
		}
		before := n.State
		alive := failed[n.URL] == nil
		if alive {
			if err := recoverNode(sources[n.NodeSourceName].ns, n.URL); err != nil {
				log.WithFields(log.Fields{"node": n.URL}).Warnf("infrastructure did not take the node back: %v", err)
				alive = false
			}
		}
		if alive {
			restore(&n, now)
			report.Alive++
		} else {
			// A DOWN node keeps its slot until it is removed.
			recoverNode(sources[n.NodeSourceName].ns, n.URL)
			if n.State != node.Down {
				n.Transition(node.Down, now)
			}
			report.Down++
		}
		keep = append(keep, n)
		if n.State != before {
			changed = append(changed, n)
		}
	}

	if err := c.persist(ctx, store, changed, drop); err != nil {
		return report, err
	}
	for _, n := range release {
		if infra := sources[n.NodeSourceName].ns.Infrastructure(); infra != nil {
			if err := infra.ReleaseNode(ctx, n.URL); err != nil {
				log.WithFields(log.Fields{"node": n.URL}).
					Warnf("%v", rmerrors.NewInfrastructureError(n.NodeSourceName, err))
			}
		}
	}

	nss := make([]*nodesource.NodeSource, 0, len(sources))
	for _, name := range sortedNames(sources) {
		nss = append(nss, sources[name].ns)
	}
	c.m.Install(nss, keep)

	for _, name := range sortedNames(sources) {
		if !sources[name].removing {
			continue
		}
		if err := c.m.CompleteRemoval(ctx, name); err != nil {
			return report, err
		}
		report.RemovalsCompleted++
	}
	for _, s := range redeploy {
		report.Redeployed += c.redeploy(ctx, s)
	}

	report.Duration = c.clock.Since(start)
	c.record(report)
	c.m.SetReady()
	log.Infof("recovered %d node sources (%d broken): %d nodes alive, %d down, %d redeployed in %s",
		report.NodeSources, len(report.Broken), report.Alive, report.Down, report.Redeployed, report.Duration)
	return report, nil
}

// loadSources rebuilds every stored node source. One that cannot be rebuilt
// stays UNDEFINED and is reported, the others are NODES_DEPLOYED.
func (c *Coordinator) loadSources(ctx context.Context, store db.Gateway, report *Report) (map[string]*source, error) {
	data, err := store.ListNodeSources(ctx)
	if err != nil {
		return nil, rmerrors.NewPersistenceError("list node sources", err)
	}
	sources := map[string]*source{}
	for _, d := range data {
		def := d.Definition()
		s := &source{ns: nodesource.New(def, c.clock.Now())}
		if status, err := nodesource.ParseStatus(d.Status); err == nil && status == nodesource.Removing {
			s.removing = true
		}
		sources[def.Name] = s
		report.NodeSources++

		fields := log.Fields{"nodeSource": def.Name}
		if err := s.ns.Instantiate(c.m.Types(), c.m.Reporter(s.ns)); err != nil {
			report.Broken[def.Name] = err
			log.WithFields(fields).Errorf("node source cannot be rebuilt: %v", err)
			continue
		}
		if err := s.ns.SetStatus(nodesource.NodesDeployed); err != nil {
			report.Broken[def.Name] = err
			continue
		}
		log.WithFields(fields).Infof("node source rebuilt with %s infrastructure", def.InfrastructureType)
	}
	return sources, nil
}

// loadNodes attaches stored nodes to their source. Records that cannot be
// read or whose source is gone are deleted.
func (c *Coordinator) loadNodes(ctx context.Context, store db.Gateway, sources map[string]*source) error {
	data, err := store.ListNodes(ctx)
	if err != nil {
		return rmerrors.NewPersistenceError("list nodes", err)
	}
	var orphans []string
	for _, d := range data {
		n, err := d.Node()
		s, ok := sources[d.NodeSourceName]
		if err != nil || !ok {
			log.WithFields(log.Fields{"node": d.URL}).Warnf("dropping unusable node record: %v", err)
			orphans = append(orphans, d.URL)
			continue
		}
		s.nodes = append(s.nodes, n)
	}
	if len(orphans) == 0 {
		return nil
	}
	return db.Retry(ctx, c.retry, "delete orphan nodes", func() error {
		return store.DeleteNodes(ctx, orphans...)
	})
}

// releasing reports whether n was being given back when the manager
// stopped. Its removal is completed rather than the node resurrected.
func releasing(n node.Node) bool {
	return n.State == node.ToRelease || (n.State == node.Down && n.PreviousState == node.ToRelease)
}

// restore settles an alive node in its last stable state. The lock overlay
// is left as it was.
func restore(n *node.Node, now time.Time) {
	target := n.RestorableState()
	switch {
	case n.State == target:
	case n.State == node.Down:
		n.Restore(target, now)
	default:
		n.Transition(target, now)
	}
	n.Pending = false
}

func recoverNode(ns *nodesource.NodeSource, url string) error {
	if r, ok := ns.Infrastructure().(nodesource.Recoverer); ok {
		return r.RecoverNode(url)
	}
	return nil
}

func (c *Coordinator) persist(ctx context.Context, store db.Gateway, changed, drop []node.Node) error {
	now := c.clock.Now()
	if len(changed) > 0 {
		data := make([]db.NodeData, len(changed))
		for i, n := range changed {
			data[i] = db.NodeDataOf(n)
		}
		if err := db.Retry(ctx, c.retry, "upsert recovered nodes", func() error {
			return store.UpsertNodes(ctx, data...)
		}); err != nil {
			return err
		}
		for _, n := range changed {
			if err := store.CloseNodeHistory(ctx, n.URL, now); err != nil {
				log.WithFields(log.Fields{"node": n.URL}).Warnf("closing node history: %v", err)
			}
			if _, err := store.AppendNodeHistory(ctx, node.OpenHistory(n, now)); err != nil {
				log.WithFields(log.Fields{"node": n.URL}).Warnf("appending node history: %v", err)
			}
		}
	}
	if len(drop) > 0 {
		if err := db.Retry(ctx, c.retry, "delete released nodes", func() error {
			return store.DeleteNodes(ctx, urls(drop)...)
		}); err != nil {
			return err
		}
		for _, n := range drop {
			if err := store.CloseNodeHistory(ctx, n.URL, now); err != nil {
				log.WithFields(log.Fields{"node": n.URL}).Warnf("closing node history: %v", err)
			}
		}
	}
	return nil
}

// redeploy activates the policy of a source again so it gets back to the
// number of nodes it is configured for: all fresh nodes for a source that
// does not keep them across restarts, the missing ones otherwise. It returns
// how many nodes joined.
func (c *Coordinator) redeploy(ctx context.Context, s *source) int {
	before := c.owned(s.ns.Name())
	if err := s.ns.Deploy(ctx); err != nil {
		c.stat.Counter(stats.ManagerInfrastructureErrorCounter).Inc(1)
		log.WithFields(log.Fields{"nodeSource": s.ns.Name()}).Warnf("redeployment: %v", err)
	}
	added := c.owned(s.ns.Name()) - before
	if added > 0 {
		log.WithFields(log.Fields{"nodeSource": s.ns.Name()}).Infof("%d fresh nodes joined", added)
	}
	return added
}

func (c *Coordinator) owned(name string) int {
	sum, err := c.m.NodeSourceSummary(name)
	if err != nil {
		return 0
	}
	total := 0
	for _, n := range sum.NodeCounts {
		total += n
	}
	return total
}

// clear drops everything stored, nodes before their sources.
func (c *Coordinator) clear(ctx context.Context, store db.Gateway) error {
	nodes, err := store.ListNodes(ctx)
	if err != nil {
		return rmerrors.NewPersistenceError("list nodes", err)
	}
	all := make([]string, len(nodes))
	for i, d := range nodes {
		all[i] = d.URL
	}
	if len(all) > 0 {
		if err := db.Retry(ctx, c.retry, "delete nodes", func() error {
			return store.DeleteNodes(ctx, all...)
		}); err != nil {
			return err
		}
	}
	sources, err := store.ListNodeSources(ctx)
	if err != nil {
		return rmerrors.NewPersistenceError("list node sources", err)
	}
	for _, d := range sources {
		name := d.Name
		if err := db.Retry(ctx, c.retry, "delete node source", func() error {
			return store.DeleteNodeSource(ctx, name)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) record(r Report) {
	c.stat.Gauge(stats.RecoveryNodeSourcesRecoveredGauge).Update(int64(r.NodeSources - len(r.Broken)))
	c.stat.Gauge(stats.RecoveryNodeSourcesBrokenGauge).Update(int64(len(r.Broken)))
	c.stat.Gauge(stats.RecoveryNodesAliveGauge).Update(int64(r.Alive))
	c.stat.Gauge(stats.RecoveryNodesDownGauge).Update(int64(r.Down))
	c.stat.Gauge(stats.RecoveryNodesRedeployedGauge).Update(int64(r.Redeployed))
	c.stat.Gauge(stats.RecoveryRemovalsCompletedGauge).Update(int64(r.RemovalsCompleted))
}

func sortedNames(sources map[string]*source) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func urls(nodes []node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.URL
	}
	return out
}
