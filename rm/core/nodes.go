package core

import (
	"context"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
	"github.com/twitter/nodepool/rm/selection"
)

// GetAllNodes returns a snapshot of every node, sorted by URL.
func (m *Manager) GetAllNodes() ([]node.Node, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	return m.nodes.All(), nil
}

// GetNode returns one node.
func (m *Manager) GetNode(url string) (node.Node, error) {
	if err := m.checkReady(); err != nil {
		return node.Node{}, err
	}
	n, ok := m.nodes.Get(url)
	if !ok {
		return node.Node{}, errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	return n, nil
}

// ListAliveNodeUrls returns the URLs of nodes that are neither DOWN nor
// pending, restricted to the given node sources when any are named.
func (m *Manager) ListAliveNodeUrls(sourceNames ...string) ([]string, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	return urlsOf(m.aliveNodes(sourceNames...)), nil
}

func (m *Manager) aliveNodes(sourceNames ...string) []node.Node {
	wanted := map[string]bool{}
	for _, s := range sourceNames {
		wanted[s] = true
	}
	return m.nodes.Select(func(n node.Node) bool {
		return n.IsAlive() && (len(wanted) == 0 || wanted[n.NodeSourceName])
	})
}

// AliveNodeURLs is the probing target list of the liveness loop. It is not
// gated on readiness.
func (m *Manager) AliveNodeURLs() []string {
	return urlsOf(m.aliveNodes())
}

// DownNodeURLs lists the DOWN nodes the liveness loop watches for a return.
// Pending nodes are left out.
func (m *Manager) DownNodeURLs() []string {
	return urlsOf(m.nodes.Select(func(n node.Node) bool {
		return n.State == node.Down && !n.Pending
	}))
}

func urlsOf(nodes []node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.URL
	}
	return out
}

// LockNodes sets the lock overlay on every given node. It reports false
// when any URL is unknown, already locked or not lockable; the others are
// still locked.
func (m *Manager) LockNodes(ctx context.Context, urls []string, by string) (bool, error) {
	if err := m.checkReady(); err != nil {
		return false, err
	}
	now := m.now()
	return m.setLocks(ctx, urls, "lock", func(n *node.Node) bool {
		if n.State != node.Free && n.State != node.Busy {
			return false
		}
		return n.Lock(by, now)
	})
}

// UnlockNodes clears the lock overlay. It reports false when any URL is
// unknown or was not locked.
func (m *Manager) UnlockNodes(ctx context.Context, urls []string) (bool, error) {
	if err := m.checkReady(); err != nil {
		return false, err
	}
	return m.setLocks(ctx, urls, "unlock", func(n *node.Node) bool {
		return n.Unlock()
	})
}

// setLocks applies change to the nodes group by group, one store batch per
// node source and host.
func (m *Manager) setLocks(ctx context.Context, urls []string, op string, change func(n *node.Node) bool) (bool, error) {
	all := true
	var firstErr error
	for _, group := range m.groupByHostAndSource(urls) {
		var befores []node.Node
		updated, missing, err := m.nodes.UpdateAll(group, func(nodes []*node.Node) error {
			befores = make([]node.Node, len(nodes))
			var batch []db.NodeData
			var changed []*node.Node
			for i, n := range nodes {
				befores[i] = *n
				if !change(n) {
					all = false
					continue
				}
				n.Pending = false
				batch = append(batch, db.NodeDataOf(*n))
				changed = append(changed, n)
			}
			if len(batch) == 0 {
				return nil
			}
			perr := m.persist(ctx, op+" nodes", func() error {
				return m.store.UpsertNodes(ctx, batch...)
			})
			if perr != nil {
				if firstErr == nil {
					firstErr = perr
				}
				for _, n := range changed {
					n.Pending = true
				}
			}
			return nil
		})
		if len(missing) > 0 {
			all = false
			log.Infof("cannot %s unknown nodes %v", op, missing)
		}
		if err != nil {
			return false, err
		}
		for i, n := range updated {
			m.committed(ctx, befores[i], n)
		}
	}
	m.updateGauges()
	return all, firstErr
}

// groupByHostAndSource splits urls into sorted groups sharing a node source
// and host. Unknown URLs form their own group so they are reported missing.
func (m *Manager) groupByHostAndSource(urls []string) [][]string {
	groups := map[string][]string{}
	for _, url := range urls {
		k := "\x00unknown"
		if n, ok := m.nodes.Get(url); ok {
			k = n.NodeSourceName + "\x00" + n.HostName
		}
		groups[k] = append(groups[k], url)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

// SelectNodes hands up to criteria.Count free nodes to client, marking them
// BUSY. Without BestEffort it returns either the full count or nothing.
func (m *Manager) SelectNodes(ctx context.Context, criteria selection.Criteria, client string) ([]node.Node, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	defer m.stat.Latency(stats.ManagerSelectLatency_ms).Time().Stop()
	m.stat.Counter(stats.ManagerSelectRequestsCounter).Inc(1)

	free := m.nodes.Select(node.Node.IsFree)
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("%s requests %d nodes among free nodes:\n%s", client, criteria.Count, spew.Sdump(free))
	}
	urls, err := m.selector.Select(ctx, urlsOf(free), criteria)
	if err != nil {
		return nil, err
	}

	var taken []node.Node
	for _, url := range urls {
		n, err := m.transition(ctx, url, func(n *node.Node) error {
			if !n.IsFree() {
				return errors.Errorf("node %s was taken", url)
			}
			if err := n.Transition(node.Busy, m.now()); err != nil {
				return err
			}
			n.Owner = client
			return nil
		})
		if rmerrors.IsPersistence(err) {
			// a pending node is not handed out
			m.transition(ctx, url, func(n *node.Node) error {
				n.Owner = ""
				return n.Transition(node.Free, m.now())
			})
		}
		if err != nil {
			log.WithFields(log.Fields{"node": url}).Infof("not selected: %v", err)
			continue
		}
		taken = append(taken, n)
	}

	if len(taken) < criteria.Count {
		m.stat.Counter(stats.ManagerSelectShortCounter).Inc(1)
		if !criteria.BestEffort && len(taken) > 0 {
			if _, err := m.ReleaseNodes(ctx, urlsOf(taken)); err != nil {
				log.Warnf("giving back a short selection: %v", err)
			}
			taken = nil
		}
	}
	m.updateGauges()
	return taken, nil
}

// ReleaseNodes is the consumer giving nodes back. A BUSY node becomes FREE;
// a node marked TO_RELEASE is removed and returned to its infrastructure.
// It reports false when any URL is unknown or not held.
func (m *Manager) ReleaseNodes(ctx context.Context, urls []string) (bool, error) {
	if err := m.checkReady(); err != nil {
		return false, err
	}
	all := true
	var firstErr error
	for _, url := range urls {
		n, ok := m.nodes.Get(url)
		if !ok {
			all = false
			continue
		}
		var err error
		switch n.State {
		case node.Busy:
			_, err = m.transition(ctx, url, func(n *node.Node) error {
				if err := n.Transition(node.Free, m.now()); err != nil {
					return err
				}
				n.Owner = ""
				return nil
			})
		case node.ToRelease:
			err = m.deleteNode(ctx, url, true)
			m.maybeFinishRemoval(ctx, n.NodeSourceName)
		default:
			all = false
			continue
		}
		if err != nil {
			all = false
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.updateGauges()
	return all, firstErr
}

// RemoveNode removes one node. A busy node is only marked TO_RELEASE unless
// preempt is set; it goes when its consumer releases it. With preempt, a node
// that is already gone counts as removed.
func (m *Manager) RemoveNode(ctx context.Context, url string, preempt bool) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	err := m.removeNode(ctx, url, preempt)
	m.updateGauges()
	return err
}

func (m *Manager) removeNode(ctx context.Context, url string, preempt bool) error {
	n, ok := m.nodes.Get(url)
	if !ok {
		if preempt {
			return nil
		}
		return errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	if n.State == node.Busy && !n.Locked && !preempt {
		_, err := m.transition(ctx, url, func(n *node.Node) error {
			return n.Transition(node.ToRelease, m.now())
		})
		return err
	}
	if n.State == node.ToRelease && !preempt {
		return nil
	}
	err := m.deleteNode(ctx, url, true)
	if preempt && errors.Cause(err) == rmerrors.ErrUnknownNode {
		err = nil
	}
	m.maybeFinishRemoval(ctx, n.NodeSourceName)
	return err
}

// SetNodeDown records that a node stopped answering. It is a no-op for a
// node already DOWN. A node of a source being removed is removed instead.
func (m *Manager) SetNodeDown(ctx context.Context, url string, cause error) error {
	n, ok := m.nodes.Get(url)
	if !ok {
		return errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	if ns, ok := m.source(n.NodeSourceName); ok && ns.Status() == nodesource.Removing {
		err := m.deleteNode(ctx, url, true)
		m.maybeFinishRemoval(ctx, n.NodeSourceName)
		return err
	}
	_, err := m.transition(ctx, url, func(n *node.Node) error {
		if n.State == node.Down {
			return errNoChange
		}
		return n.Transition(node.Down, m.now())
	})
	if err == errNoChange {
		return nil
	}
	if err == nil {
		log.WithFields(log.Fields{"node": url}).Warnf("node is down: %v", cause)
	}
	m.updateGauges()
	return err
}

// SetNodeAvailable brings a DOWN node that answers again back to the state
// it had before it went down. It is a no-op for a node that is not DOWN.
func (m *Manager) SetNodeAvailable(ctx context.Context, url string) error {
	_, err := m.transition(ctx, url, func(n *node.Node) error {
		if n.State != node.Down {
			return errNoChange
		}
		return n.Restore(n.RestorableState(), m.now())
	})
	if err == errNoChange {
		return nil
	}
	m.updateGauges()
	return err
}

var errNoChange = errors.New("no change")

// ListNodeHistory returns the recorded state intervals of url, or of every
// node when url is empty.
func (m *Manager) ListNodeHistory(ctx context.Context, url string) ([]node.History, error) {
	return m.store.ListNodeHistory(ctx, url)
}
