package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/infrastructure/local"
	"github.com/twitter/nodepool/rm/nodesource"
)

// flakyStore fails node writes while failing is set and slows node upserts
// by delay.
type flakyStore struct {
	*db.Memory
	failing int32
	delay   int64
}

func (s *flakyStore) slow(d time.Duration) {
	atomic.StoreInt64(&s.delay, int64(d))
}

func (s *flakyStore) fail(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&s.failing, v)
}

func (s *flakyStore) UpsertNodes(ctx context.Context, nodes ...db.NodeData) error {
	if d := atomic.LoadInt64(&s.delay); d > 0 {
		time.Sleep(time.Duration(d))
	}
	if atomic.LoadInt32(&s.failing) == 1 {
		return fmt.Errorf("disk full")
	}
	return s.Memory.UpsertNodes(ctx, nodes...)
}

func (s *flakyStore) DeleteNodes(ctx context.Context, urls ...string) error {
	if atomic.LoadInt32(&s.failing) == 1 {
		return fmt.Errorf("disk full")
	}
	return s.Memory.DeleteNodes(ctx, urls...)
}

type fixture struct {
	m     *Manager
	store *flakyStore
	host  *local.Host
	bus   *events.Bus
	stat  stats.StatsReceiver
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Persistence.InitialInterval = time.Millisecond
	opts.Persistence.MaxInterval = 2 * time.Millisecond
	opts.Persistence.MaxElapsedTime = 10 * time.Millisecond
	opts.Persistence.PendingRetryInterval = 0
	opts.Stat = stats.DefaultStatsReceiver()
	return opts
}

func newFixture(t *testing.T) *fixture {
	host := local.NewHost("h1")
	types := nodesource.NewTypes()
	local.Register(types, host)
	store := &flakyStore{Memory: db.NewMemory()}
	opts := testOptions()
	opts.Bus = events.NewBus(opts.Stat)
	m, err := NewManager(types, store, opts)
	require.NoError(t, err)
	m.SetReady()
	t.Cleanup(func() {
		m.Shutdown(context.Background())
		opts.Bus.Close()
	})
	return &fixture{m: m, store: store, host: host, bus: opts.Bus, stat: opts.Stat}
}

func localSource(name string, capacity int) nodesource.Definition {
	return nodesource.Definition{
		Name:                 name,
		InfrastructureType:   local.Type,
		InfrastructureParams: []string{fmt.Sprint(capacity)},
		PolicyType:           nodesource.StaticPolicyType,
		Provider:             "admin",
		NodesRecoverable:     true,
	}
}

// deploy creates a local source and waits for its nodes to be free.
func (f *fixture) deploy(t *testing.T, name string, capacity int) []string {
	require.NoError(t, f.m.CreateNodeSource(context.Background(), localSource(name, capacity), true))
	var urls []string
	require.Eventually(t, func() bool {
		urls, _ = f.m.ListAliveNodeUrls(name)
		if len(urls) != capacity {
			return false
		}
		for _, u := range urls {
			if n, _ := f.m.GetNode(u); n.State.String() != "FREE" {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return urls
}
