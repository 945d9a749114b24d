// Package hosts provides an infrastructure over nodes that already exist.
// Its parameters are the node URLs; acquiring hands them out and releasing
// returns them to the list.
package hosts

import (
	"context"
	"net/url"
	"sync"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/nodesource"
)

const Type = "hosts"

type Infrastructure struct {
	source   string
	urls     []string
	reporter nodesource.Reporter

	mu     sync.Mutex
	handed map[string]bool
}

func Register(types *nodesource.Types) {
	types.RegisterInfrastructure(Type, Factory)
}

func Factory(source string, params []string, r nodesource.Reporter) (nodesource.Infrastructure, error) {
	if len(params) == 0 {
		return nil, rmerrors.NewValidationError("infrastructure_params", "hosts infrastructure needs at least one node url")
	}
	seen := map[string]bool{}
	for _, p := range params {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, rmerrors.NewValidationError("infrastructure_params", "%q is not a node url", p)
		}
		if seen[p] {
			return nil, rmerrors.NewValidationError("infrastructure_params", "duplicate node url %q", p)
		}
		seen[p] = true
	}
	return &Infrastructure{
		source:   source,
		urls:     append([]string(nil), params...),
		reporter: r,
		handed:   map[string]bool{},
	}, nil
}

func (i *Infrastructure) AcquireNodes(ctx context.Context, count int) error {
	for _, u := range i.take(count) {
		parsed, _ := url.Parse(u)
		i.reporter.NodeAcquired(nodesource.AcquiredNode{URL: u, HostName: parsed.Hostname()})
		i.reporter.NodeReady(u)
	}
	return nil
}

func (i *Infrastructure) take(count int) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, u := range i.urls {
		if len(out) == count {
			break
		}
		if !i.handed[u] {
			i.handed[u] = true
			out = append(out, u)
		}
	}
	return out
}

func (i *Infrastructure) ReleaseNode(ctx context.Context, u string) error {
	i.mu.Lock()
	delete(i.handed, u)
	i.mu.Unlock()
	return nil
}

func (i *Infrastructure) Capacity() int { return len(i.urls) }

func (i *Infrastructure) RecoverNode(u string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, known := range i.urls {
		if known == u {
			i.handed[u] = true
			return nil
		}
	}
	return rmerrors.NewValidationError("url", "%s is not one of the hosts of %s", u, i.source)
}

func (i *Infrastructure) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	i.handed = map[string]bool{}
	i.mu.Unlock()
	return nil
}
