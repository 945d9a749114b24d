package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/node"
)

func (m *Manager) persist(ctx context.Context, op string, f func() error) error {
	err := db.Retry(ctx, m.retry, op, f)
	if rmerrors.IsPersistence(err) {
		m.stat.Counter(stats.ManagerPersistFailuresCounter).Inc(1)
	}
	return err
}

func (m *Manager) markPending(url string, op pendingOp) {
	m.pendingMu.Lock()
	m.pending[url] = op
	m.pendingMu.Unlock()
}

func (m *Manager) clearPending(url string) {
	m.pendingMu.Lock()
	delete(m.pending, url)
	m.pendingMu.Unlock()
}

func (m *Manager) PendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// transition applies fn to the node and persists the result before
// committing it. When the store keeps failing the change is still
// committed, marked pending, and the PersistenceError is returned.
func (m *Manager) transition(ctx context.Context, url string, fn func(n *node.Node) error) (node.Node, error) {
	var before node.Node
	var perr error
	n, err := m.nodes.Update(url, func(n *node.Node) error {
		before = *n
		if err := fn(n); err != nil {
			return err
		}
		n.Pending = false
		perr = m.persist(ctx, "upsert node "+url, func() error {
			return m.store.UpsertNodes(ctx, db.NodeDataOf(*n))
		})
		if perr != nil {
			n.Pending = true
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	m.committed(ctx, before, n)
	return n, perr
}

// committed does the bookkeeping that follows a registry change.
func (m *Manager) committed(ctx context.Context, before, after node.Node) {
	if after.Pending {
		m.markPending(after.URL, pendingUpsert)
	} else if before.Pending {
		m.clearPending(after.URL)
	}
	if before.State != after.State {
		m.stat.Counter(stats.ManagerTransitionsCounter).Inc(1)
		if !after.Pending {
			m.recordHistory(ctx, after)
		}
		log.WithFields(log.Fields{
			"node":       after.URL,
			"nodeSource": after.NodeSourceName,
			"state":      after.State,
		}).Infof("node %s -> %s", before.State, after.State)
	}
	if before.State != after.State || before.Locked != after.Locked || before.Pending != after.Pending {
		e := events.New(events.NodeStateChanged, m.clock.Now())
		e.NodeSource = after.NodeSourceName
		e.NodeURL = after.URL
		e.Previous = before.State.String()
		e.Current = after.State.String()
		e.Locked = after.Locked
		e.Pending = after.Pending
		m.publish(e)
	}
}

// recordHistory closes the open interval of n and opens one for its
// current state. History is reporting only: failures are logged.
func (m *Manager) recordHistory(ctx context.Context, n node.Node) {
	now := m.clock.Now()
	if err := m.store.CloseNodeHistory(ctx, n.URL, now); err != nil {
		log.WithFields(log.Fields{"node": n.URL}).Warnf("closing node history: %v", err)
	}
	if _, err := m.store.AppendNodeHistory(ctx, node.OpenHistory(n, now)); err != nil {
		log.WithFields(log.Fields{"node": n.URL}).Warnf("appending node history: %v", err)
	}
}

func (m *Manager) closeHistory(ctx context.Context, url string) {
	if err := m.store.CloseNodeHistory(ctx, url, m.clock.Now()); err != nil {
		log.WithFields(log.Fields{"node": url}).Warnf("closing node history: %v", err)
	}
}

// FlushPending retries every change held pending once and returns how many
// reached the store.
func (m *Manager) FlushPending(ctx context.Context) int {
	m.pendingMu.Lock()
	ops := make(map[string]pendingOp, len(m.pending))
	for url, op := range m.pending {
		ops[url] = op
	}
	m.pendingMu.Unlock()

	flushed := 0
	for url, op := range ops {
		var err error
		switch op {
		case pendingDelete:
			err = m.deleteNode(ctx, url, true)
		default:
			err = m.flushUpsert(ctx, url)
		}
		switch {
		case errors.Is(err, rmerrors.ErrUnknownNode):
			m.clearPending(url)
		case err != nil:
			log.WithFields(log.Fields{"node": url}).Debugf("still pending: %v", err)
		default:
			flushed++
		}
	}
	if flushed > 0 {
		m.stat.Counter(stats.ManagerPendingFlushedCounter).Inc(int64(flushed))
		m.updateGauges()
	}
	return flushed
}

func (m *Manager) flushUpsert(ctx context.Context, url string) error {
	var before node.Node
	n, err := m.nodes.Update(url, func(n *node.Node) error {
		before = *n
		if !n.Pending {
			return nil
		}
		if err := m.store.UpsertNodes(ctx, db.NodeDataOf(*n)); err != nil {
			return err
		}
		n.Pending = false
		return nil
	})
	if err != nil {
		return err
	}
	m.clearPending(url)
	if before.Pending {
		m.recordHistory(ctx, n)
		m.committed(ctx, before, n)
	}
	return nil
}

// deleteNode removes a node from the store and then from the registry. If
// the store refuses, the node stays, marked pending, until a flush succeeds.
// The infrastructure is asked to release the node when release is set.
func (m *Manager) deleteNode(ctx context.Context, url string, release bool) error {
	var perr error
	n, err := m.nodes.RemoveIf(url, func(n node.Node) error {
		perr = m.persist(ctx, "delete node "+url, func() error {
			return m.store.DeleteNodes(ctx, url)
		})
		return perr
	})
	if perr != nil {
		m.markPending(url, pendingDelete)
		if _, uerr := m.nodes.Update(url, func(n *node.Node) error {
			n.Pending = true
			return nil
		}); uerr != nil {
			log.WithFields(log.Fields{"node": url}).Debugf("marking pending removal: %v", uerr)
		}
		return perr
	}
	if err != nil {
		return err
	}
	m.clearPending(url)
	m.closeHistory(ctx, url)
	if release {
		m.releaseFromInfrastructure(ctx, n)
	}
	e := events.New(events.NodeRemoved, m.clock.Now())
	e.NodeSource = n.NodeSourceName
	e.NodeURL = n.URL
	e.Previous = n.State.String()
	m.publish(e)
	log.WithFields(log.Fields{"node": url, "nodeSource": n.NodeSourceName}).Info("node removed")
	return nil
}

func (m *Manager) releaseFromInfrastructure(ctx context.Context, n node.Node) {
	ns, ok := m.source(n.NodeSourceName)
	if !ok || ns.Infrastructure() == nil {
		return
	}
	if err := ns.Infrastructure().ReleaseNode(ctx, n.URL); err != nil {
		m.stat.Counter(stats.ManagerInfrastructureErrorCounter).Inc(1)
		log.WithFields(log.Fields{"node": n.URL}).
			Warnf("%v", rmerrors.NewInfrastructureError(n.NodeSourceName, err))
	}
}

func (m *Manager) now() time.Time { return m.clock.Now() }
