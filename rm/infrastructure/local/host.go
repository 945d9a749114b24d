// Package local provides an infrastructure whose nodes are simulated
// processes on an in-process Host. The host outlives any manager that uses
// it, which is what a real machine does across a manager restart.
package local

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

const Scheme = "local"

// Host tracks the node processes running on one machine.
type Host struct {
	name  string
	mu    sync.Mutex
	procs map[string]bool
}

func NewHost(name string) *Host {
	return &Host{name: name, procs: map[string]bool{}}
}

func (h *Host) Name() string { return h.name }

func (h *Host) start(url string) {
	h.mu.Lock()
	h.procs[url] = true
	h.mu.Unlock()
}

// Stop removes the node process entirely, as a release does.
func (h *Host) stop(url string) {
	h.mu.Lock()
	delete(h.procs, url)
	h.mu.Unlock()
}

// Kill crashes a node process; it stops answering pings.
func (h *Host) Kill(url string) {
	h.mu.Lock()
	if _, ok := h.procs[url]; ok {
		h.procs[url] = false
	}
	h.mu.Unlock()
}

// KillAll crashes every node process on the host.
func (h *Host) KillAll() {
	h.mu.Lock()
	for u := range h.procs {
		h.procs[u] = false
	}
	h.mu.Unlock()
}

// Revive restarts a crashed node process.
func (h *Host) Revive(url string) {
	h.mu.Lock()
	if _, ok := h.procs[url]; ok {
		h.procs[url] = true
	}
	h.mu.Unlock()
}

// Alive lists the URLs of running node processes.
func (h *Host) Alive() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for u, alive := range h.procs {
		if alive {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Ping answers for processes of this host. It satisfies liveness.Prober.
func (h *Host) Ping(ctx context.Context, nodeURL string) error {
	if err := ctx.Err(); err != nil {
		return rmerrors.NewLivenessTimeout(nodeURL, err)
	}
	h.mu.Lock()
	alive := h.procs[nodeURL]
	h.mu.Unlock()
	if !alive {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("no process on %s", h.name))
	}
	return nil
}

// Hosts routes pings to the host named in the node URL.
type Hosts struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

func NewHosts(hosts ...*Host) *Hosts {
	hs := &Hosts{hosts: map[string]*Host{}}
	for _, h := range hosts {
		hs.Add(h)
	}
	return hs
}

func (hs *Hosts) Add(h *Host) {
	hs.mu.Lock()
	hs.hosts[h.name] = h
	hs.mu.Unlock()
}

func (hs *Hosts) Get(name string) (*Host, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	h, ok := hs.hosts[name]
	return h, ok
}

func (hs *Hosts) Ping(ctx context.Context, nodeURL string) error {
	u, err := url.Parse(nodeURL)
	if err != nil || u.Scheme != Scheme {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("not a %s node url", Scheme))
	}
	h, ok := hs.Get(u.Host)
	if !ok {
		return rmerrors.NewLivenessTimeout(nodeURL, fmt.Errorf("unknown host %s", u.Host))
	}
	return h.Ping(ctx, nodeURL)
}

// NodeURL builds local://host/source/name.
func NodeURL(host, source, name string) string {
	return fmt.Sprintf("%s://%s/%s/%s", Scheme, host, source, name)
}

// ParseNodeURL splits a node URL into host, source and name.
func ParseNodeURL(nodeURL string) (host, source, name string, err error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return "", "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Scheme != Scheme || len(parts) != 2 {
		return "", "", "", rmerrors.NewValidationError("url", "%q is not a local node url", nodeURL)
	}
	return u.Host, parts[0], parts[1], nil
}
