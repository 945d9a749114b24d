// Package registry is the authoritative in-memory map of every node the
// manager knows about.
//
// Each node has its own lock, so transitions of different nodes never wait on
// each other; the map lock is only held to find or insert an entry.
package registry

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/node"
)

type entry struct {
	mu      sync.Mutex
	node    node.Node
	removed bool
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Add registers a new node. It fails if the URL is already known.
func (r *Registry) Add(n node.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[n.URL]; ok {
		return rmerrors.NewValidationError("url", "node %s already registered", n.URL)
	}
	r.entries[n.URL] = &entry{node: n}
	return nil
}

func (r *Registry) lookup(url string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[url]
	return e, ok
}

// Get returns a snapshot of the node.
func (r *Registry) Get(url string) (node.Node, bool) {
	e, ok := r.lookup(url)
	if !ok {
		return node.Node{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return node.Node{}, false
	}
	return e.node, true
}

// Update runs fn on a copy of the node while holding the node's lock and
// commits the copy only if fn succeeds. Updates to one node are serialized;
// fn may block (on persistence, for instance) without stalling other nodes.
func (r *Registry) Update(url string, fn func(n *node.Node) error) (node.Node, error) {
	e, ok := r.lookup(url)
	if !ok {
		return node.Node{}, errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return node.Node{}, errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	n := e.node
	if err := fn(&n); err != nil {
		return e.node, err
	}
	e.node = n
	return n, nil
}

// UpdateAll is Update over several nodes at once, for changes that are
// persisted as one batch. Node locks are taken in URL order. Unknown URLs are
// skipped and returned in missing; fn sees the others in URL order.
func (r *Registry) UpdateAll(urls []string, fn func(nodes []*node.Node) error) (updated []node.Node, missing []string, err error) {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)

	var locked []*entry
	defer func() {
		for _, e := range locked {
			e.mu.Unlock()
		}
	}()
	seen := map[string]bool{}
	for _, url := range sorted {
		if seen[url] {
			continue
		}
		seen[url] = true
		e, ok := r.lookup(url)
		if !ok {
			missing = append(missing, url)
			continue
		}
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			missing = append(missing, url)
			continue
		}
		locked = append(locked, e)
	}

	copies := make([]node.Node, len(locked))
	ptrs := make([]*node.Node, len(locked))
	for i, e := range locked {
		copies[i] = e.node
		ptrs[i] = &copies[i]
	}
	if err := fn(ptrs); err != nil {
		return nil, missing, err
	}
	for i, e := range locked {
		e.node = copies[i]
	}
	return copies, missing, nil
}

// RemoveIf removes the node when fn, called under the node's lock, returns
// nil. The removed snapshot is returned.
func (r *Registry) RemoveIf(url string, fn func(n node.Node) error) (node.Node, error) {
	e, ok := r.lookup(url)
	if !ok {
		return node.Node{}, errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return node.Node{}, errors.Wrap(rmerrors.ErrUnknownNode, url)
	}
	if err := fn(e.node); err != nil {
		e.mu.Unlock()
		return e.node, err
	}
	e.removed = true
	n := e.node
	e.mu.Unlock()

	r.mu.Lock()
	if cur, ok := r.entries[url]; ok && cur == e {
		delete(r.entries, url)
	}
	r.mu.Unlock()
	return n, nil
}

// Remove drops the node unconditionally.
func (r *Registry) Remove(url string) (node.Node, bool) {
	n, err := r.RemoveIf(url, func(node.Node) error { return nil })
	return n, err == nil
}

// Select returns snapshots of the nodes matching pred, sorted by URL.
func (r *Registry) Select(pred func(n node.Node) bool) []node.Node {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []node.Node
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && (pred == nil || pred(e.node)) {
			out = append(out, e.node)
		}
		e.mu.Unlock()
	}
	sort.Sort(byURL(out))
	return out
}

func (r *Registry) All() []node.Node {
	return r.Select(nil)
}

func (r *Registry) BySource(source string) []node.Node {
	return r.Select(func(n node.Node) bool { return n.NodeSourceName == source })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Replace swaps the whole content in one step. Readers see either the old or
// the new set of nodes, never a mix.
func (r *Registry) Replace(nodes []node.Node) {
	entries := make(map[string]*entry, len(nodes))
	for _, n := range nodes {
		entries[n.URL] = &entry{node: n}
	}
	r.mu.Lock()
	old := r.entries
	r.entries = entries
	r.mu.Unlock()
	for _, e := range old {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

type byURL []node.Node

func (s byURL) Len() int           { return len(s) }
func (s byURL) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byURL) Less(i, j int) bool { return s[i].URL < s[j].URL }
