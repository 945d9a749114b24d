package core

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
)

func (m *Manager) source(name string) (*nodesource.NodeSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.sources[name]
	return ns, ok
}

// CreateNodeSource validates def, persists it, builds its infrastructure and
// policy and starts deploying nodes in the background. It returns once the
// definition is durable. persist is false only when the store already holds
// the definition.
func (m *Manager) CreateNodeSource(ctx context.Context, def nodesource.Definition, persist bool) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := m.types.Check(def); err != nil {
		return err
	}

	ns := nodesource.New(def, m.now())
	m.mu.Lock()
	if _, ok := m.sources[def.Name]; ok {
		m.mu.Unlock()
		return rmerrors.NewValidationError("name", "node source %q already exists", def.Name)
	}
	m.sources[def.Name] = ns
	m.mu.Unlock()

	forget := func() {
		m.mu.Lock()
		delete(m.sources, def.Name)
		m.mu.Unlock()
	}
	if persist {
		data := db.NodeSourceDataOf(def, nodesource.Undefined)
		if err := m.persist(ctx, "upsert node source "+def.Name, func() error {
			return m.store.UpsertNodeSource(ctx, data)
		}); err != nil {
			forget()
			return err
		}
	}
	if err := ns.Instantiate(m.types, m.Reporter(ns)); err != nil {
		forget()
		if persist {
			if derr := m.store.DeleteNodeSource(ctx, def.Name); derr != nil {
				log.Warnf("dropping definition of %s: %v", def.Name, derr)
			}
		}
		return err
	}
	if err := m.setSourceStatus(ctx, ns, nodesource.NodesDeployed, persist); err != nil {
		log.WithFields(log.Fields{"nodeSource": def.Name}).Warnf("status not persisted: %v", err)
	}

	e := events.New(events.NodeSourceCreated, m.now())
	e.NodeSource = def.Name
	e.Current = nodesource.NodesDeployed.String()
	m.publish(e)
	log.WithFields(log.Fields{"nodeSource": def.Name}).
		Infof("node source created with %s infrastructure and %s policy", def.InfrastructureType, def.PolicyType)

	m.Deploy(ns)
	m.updateGauges()
	return nil
}

// Deploy activates the policy of ns in the background. Acquisition failures
// are logged; the source keeps whatever nodes it got.
func (m *Manager) Deploy(ns *nodesource.NodeSource) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := ns.Deploy(m.ctx); err != nil {
			m.stat.Counter(stats.ManagerInfrastructureErrorCounter).Inc(1)
			log.WithFields(log.Fields{"nodeSource": ns.Name()}).Warnf("deployment: %v", err)
		}
	}()
}

func (m *Manager) setSourceStatus(ctx context.Context, ns *nodesource.NodeSource, to nodesource.Status, persist bool) error {
	from := ns.Status()
	if err := ns.SetStatus(to); err != nil {
		return err
	}
	if from != to {
		e := events.New(events.NodeSourceStatusChanged, m.now())
		e.NodeSource = ns.Name()
		e.Previous = from.String()
		e.Current = to.String()
		m.publish(e)
	}
	if !persist {
		return nil
	}
	data := db.NodeSourceDataOf(ns.Definition(), to)
	return m.persist(ctx, "upsert node source "+ns.Name(), func() error {
		return m.store.UpsertNodeSource(ctx, data)
	})
}

// RemoveNodeSource moves the source to REMOVING and releases its nodes:
// all of them at once with preempt, otherwise busy nodes as their consumers
// give them back. The definition is deleted after the last node is gone.
// Calling it again after a failure resumes the removal; with preempt, a
// source that is already gone counts as removed.
func (m *Manager) RemoveNodeSource(ctx context.Context, name string, preempt bool) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	err := m.removeNodeSource(ctx, name, preempt)
	m.updateGauges()
	return err
}

// CompleteRemoval finishes the removal of a source found REMOVING after a
// restart. It is not gated on readiness.
func (m *Manager) CompleteRemoval(ctx context.Context, name string) error {
	return m.removeNodeSource(ctx, name, true)
}

func (m *Manager) removeNodeSource(ctx context.Context, name string, preempt bool) error {
	ns, ok := m.source(name)
	if !ok {
		if preempt {
			return nil
		}
		return errors.Wrap(rmerrors.ErrUnknownNodeSource, name)
	}
	// Offers in flight finish before the status flips, so the walk below
	// sees every node the policy accepted.
	m.acquireMu.Lock()
	err := m.setSourceStatus(ctx, ns, nodesource.Removing, true)
	m.acquireMu.Unlock()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"nodeSource": name}).Infof("removing node source, preempt=%t", preempt)

	var firstErr error
	for _, n := range m.nodes.BySource(name) {
		var err error
		if preempt || n.State != node.Busy {
			err = m.deleteNode(ctx, n.URL, true)
		} else {
			_, err = m.transition(ctx, n.URL, func(n *node.Node) error {
				return n.Transition(node.ToRelease, m.now())
			})
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return m.maybeFinishRemoval(ctx, name)
}

// maybeFinishRemoval drops a REMOVING source once it owns no node.
func (m *Manager) maybeFinishRemoval(ctx context.Context, name string) error {
	ns, ok := m.source(name)
	if !ok || ns.Status() != nodesource.Removing || len(m.nodes.BySource(name)) > 0 {
		return nil
	}
	if err := m.persist(ctx, "delete node source "+name, func() error {
		return m.store.DeleteNodeSource(ctx, name)
	}); err != nil {
		return err
	}
	if infra := ns.Infrastructure(); infra != nil {
		if err := infra.Shutdown(ctx); err != nil {
			log.WithFields(log.Fields{"nodeSource": name}).
				Warnf("%v", rmerrors.NewInfrastructureError(name, err))
		}
	}
	ns.SetStatus(nodesource.Lost)
	m.mu.Lock()
	if m.sources[name] == ns {
		delete(m.sources, name)
	}
	m.mu.Unlock()

	e := events.New(events.NodeSourceRemoved, m.now())
	e.NodeSource = name
	e.Previous = nodesource.Removing.String()
	e.Current = nodesource.Lost.String()
	m.publish(e)
	log.WithFields(log.Fields{"nodeSource": name}).Info("node source removed")
	return nil
}

// ListNodeSources summarizes every node source, sorted by name.
func (m *Manager) ListNodeSources() []nodesource.Summary {
	m.mu.RLock()
	sources := make([]*nodesource.NodeSource, 0, len(m.sources))
	for _, ns := range m.sources {
		sources = append(sources, ns)
	}
	m.mu.RUnlock()
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name() < sources[j].Name() })

	out := make([]nodesource.Summary, len(sources))
	for i, ns := range sources {
		out[i] = m.summarize(ns)
	}
	return out
}

func (m *Manager) NodeSourceSummary(name string) (nodesource.Summary, error) {
	ns, ok := m.source(name)
	if !ok {
		return nodesource.Summary{}, errors.Wrap(rmerrors.ErrUnknownNodeSource, name)
	}
	return m.summarize(ns), nil
}

// summarize counts nodes per state; pending nodes count as DOWN_PENDING.
func (m *Manager) summarize(ns *nodesource.NodeSource) nodesource.Summary {
	s := nodesource.Summary{
		Definition: ns.Definition(),
		Status:     ns.Status(),
		NodeCounts: map[string]int{},
	}
	if err := ns.Err(); err != nil {
		s.Error = err.Error()
	}
	for _, n := range m.nodes.BySource(ns.Name()) {
		if n.Pending {
			s.NodeCounts["DOWN_PENDING"]++
			continue
		}
		s.NodeCounts[n.State.String()]++
	}
	return s
}
