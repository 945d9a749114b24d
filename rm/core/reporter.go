package core

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
)

// Reporter returns the channel through which the infrastructure of ns
// announces its nodes.
func (m *Manager) Reporter(ns *nodesource.NodeSource) nodesource.Reporter {
	return &reporter{m: m, ns: ns}
}

type reporter struct {
	m  *Manager
	ns *nodesource.NodeSource
}

func (r *reporter) NodeAcquired(a nodesource.AcquiredNode) { r.m.nodeAcquired(r.ns, a) }

func (r *reporter) NodeReady(url string) { r.m.nodeReady(url) }

func (r *reporter) NodeLost(url string, cause error) {
	if err := r.m.SetNodeDown(r.m.ctx, url, cause); err != nil {
		log.WithFields(log.Fields{"node": url}).Infof("reporting lost node: %v", err)
	}
}

// nodeAcquired adds a DEPLOYING node if the source's policy takes it, and
// hands it straight back to the infrastructure otherwise. A source that is
// being removed takes no node.
func (m *Manager) nodeAcquired(ns *nodesource.NodeSource, a nodesource.AcquiredNode) {
	ctx := m.ctx
	source := ns.Name()
	fields := log.Fields{"node": a.URL, "nodeSource": source}

	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()
	if !ns.Accept(len(m.nodes.BySource(source))) {
		m.stat.Counter(stats.ManagerRejectedNodesCounter).Inc(1)
		log.WithFields(fields).Info("node rejected by policy")
		if infra := ns.Infrastructure(); infra != nil {
			infra.ReleaseNode(ctx, a.URL)
		}
		return
	}

	def := ns.Definition()
	n := node.Node{
		URL:             a.URL,
		HostName:        a.HostName,
		NodeSourceName:  source,
		Provider:        def.Provider,
		JVMName:         a.JVMName,
		State:           node.Deploying,
		PreviousState:   node.Deploying,
		StateChangeTime: m.now(),
	}
	if err := m.persist(ctx, "add node "+a.URL, func() error {
		return m.store.UpsertNodes(ctx, db.NodeDataOf(n))
	}); err != nil {
		n.Pending = true
		log.WithFields(fields).Warnf("node added pending: %v", err)
	}
	if err := m.nodes.Add(n); err != nil {
		log.WithFields(fields).Warnf("adding node: %v", err)
		return
	}
	if n.Pending {
		m.markPending(n.URL, pendingUpsert)
	} else {
		m.recordHistory(ctx, n)
	}

	e := events.New(events.NodeAdded, m.now())
	e.NodeSource = source
	e.NodeURL = a.URL
	e.Current = n.State.String()
	e.Pending = n.Pending
	m.publish(e)
	m.updateGauges()
}

func (m *Manager) nodeReady(url string) {
	_, err := m.transition(m.ctx, url, func(n *node.Node) error {
		return n.Transition(node.Free, m.now())
	})
	if err != nil {
		log.WithFields(log.Fields{"node": url}).Warnf("node ready: %v", errors.Cause(err))
	}
	m.updateGauges()
}
