package local

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/nodesource"
)

const Type = "local"

// Infrastructure starts node processes on a single Host, up to a capacity
// given as its only parameter.
type Infrastructure struct {
	host     *Host
	source   string
	capacity int
	reporter nodesource.Reporter

	mu    sync.Mutex
	owned map[string]bool
}

// Register makes the "local" type available, placing nodes on host.
func Register(types *nodesource.Types, host *Host) {
	types.RegisterInfrastructure(Type, Factory(host))
}

func Factory(host *Host) nodesource.InfrastructureFactory {
	return func(source string, params []string, r nodesource.Reporter) (nodesource.Infrastructure, error) {
		if len(params) != 1 {
			return nil, rmerrors.NewValidationError("infrastructure_params", "local infrastructure takes [capacity]")
		}
		capacity, err := strconv.Atoi(params[0])
		if err != nil || capacity < 0 {
			return nil, rmerrors.NewValidationError("infrastructure_params", "capacity %q is not a non-negative integer", params[0])
		}
		return &Infrastructure{
			host:     host,
			source:   source,
			capacity: capacity,
			reporter: r,
			owned:    map[string]bool{},
		}, nil
	}
}

func (i *Infrastructure) AcquireNodes(ctx context.Context, count int) error {
	for n := 0; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		url, ok, err := i.reserve()
		if err != nil {
			return err
		}
		if !ok {
			log.Infof("local infrastructure of %s is at capacity %d", i.source, i.capacity)
			return nil
		}
		i.host.start(url)
		i.reporter.NodeAcquired(nodesource.AcquiredNode{URL: url, HostName: i.host.name, JVMName: "jvm-" + i.source})
		i.reporter.NodeReady(url)
	}
	return nil
}

func (i *Infrastructure) reserve() (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.owned) >= i.capacity {
		return "", false, nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", false, err
	}
	url := NodeURL(i.host.name, i.source, id.String())
	i.owned[url] = true
	return url, true, nil
}

func (i *Infrastructure) ReleaseNode(ctx context.Context, url string) error {
	i.mu.Lock()
	delete(i.owned, url)
	i.mu.Unlock()
	i.host.stop(url)
	return nil
}

func (i *Infrastructure) Capacity() int { return i.capacity }

// RecoverNode takes back a node started before a restart.
func (i *Infrastructure) RecoverNode(url string) error {
	_, source, _, err := ParseNodeURL(url)
	if err != nil {
		return err
	}
	if source != i.source {
		return fmt.Errorf("node %s belongs to node source %s, not %s", url, source, i.source)
	}
	i.mu.Lock()
	i.owned[url] = true
	i.mu.Unlock()
	return nil
}

func (i *Infrastructure) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	urls := make([]string, 0, len(i.owned))
	for u := range i.owned {
		urls = append(urls, u)
	}
	i.owned = map[string]bool{}
	i.mu.Unlock()
	for _, u := range urls {
		i.host.stop(u)
	}
	return nil
}
