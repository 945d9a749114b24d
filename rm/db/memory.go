package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/node"
)

// Memory is a Gateway that lives as long as the process. It backs tests
// and single-process setups where losing state on exit is acceptable.
type Memory struct {
	mu      sync.Mutex
	sources map[string]NodeSourceData
	nodes   map[string]NodeData
	history []node.History
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{sources: map[string]NodeSourceData{}, nodes: map[string]NodeData{}}
}

var errClosed = errors.New("gateway closed")

func (m *Memory) ListNodeSources(ctx context.Context) ([]NodeSourceData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	out := make([]NodeSourceData, 0, len(m.sources))
	for _, d := range m.sources {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListNodes(ctx context.Context) ([]NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	out := make([]NodeData, 0, len(m.nodes))
	for _, d := range m.nodes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *Memory) UpsertNodeSource(ctx context.Context, data NodeSourceData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.sources[data.Name] = data
	return nil
}

func (m *Memory) DeleteNodeSource(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for _, n := range m.nodes {
		if n.NodeSourceName == name {
			return errors.Errorf("node source %s still has node %s", name, n.URL)
		}
	}
	delete(m.sources, name)
	return nil
}

func (m *Memory) UpsertNodes(ctx context.Context, nodes ...NodeData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for _, n := range nodes {
		if _, ok := m.sources[n.NodeSourceName]; !ok {
			return errors.Wrapf(rmerrors.ErrUnknownNodeSource, "node %s references %q", n.URL, n.NodeSourceName)
		}
	}
	for _, n := range nodes {
		m.nodes[n.URL] = n
	}
	return nil
}

func (m *Memory) DeleteNodes(ctx context.Context, urls ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for _, u := range urls {
		delete(m.nodes, u)
	}
	return nil
}

func (m *Memory) AppendNodeHistory(ctx context.Context, h node.History) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errClosed
	}
	h.ID = int64(len(m.history) + 1)
	m.history = append(m.history, h)
	return h.ID, nil
}

func (m *Memory) CloseNodeHistory(ctx context.Context, url string, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	for i := range m.history {
		if m.history[i].NodeURL == url && m.history[i].Open() {
			m.history[i].End = end
		}
	}
	return nil
}

func (m *Memory) ListNodeHistory(ctx context.Context, url string) ([]node.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	var out []node.History
	for _, h := range m.history {
		if url == "" || h.NodeURL == url {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Reopen makes a closed Memory usable again with its content intact, the
// way a file-backed store comes back after a restart.
func (m *Memory) Reopen() *Memory {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
	return m
}
