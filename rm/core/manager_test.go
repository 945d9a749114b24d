package core

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/events"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
	"github.com/twitter/nodepool/rm/selection"
)

func TestNodeSourceDeploysLocalNodes(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 3)
	assert.Len(t, urls, 3)

	s, err := f.m.NodeSourceSummary("ns1")
	require.NoError(t, err)
	assert.Equal(t, nodesource.NodesDeployed, s.Status)
	assert.Equal(t, map[string]int{"FREE": 3}, s.NodeCounts)

	ctx := context.Background()
	stored, err := f.store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	sources, _ := f.store.ListNodeSources(ctx)
	require.Len(t, sources, 1)
	assert.Equal(t, "NODES_DEPLOYED", sources[0].Status)

	// DEPLOYING closed, FREE open
	history, err := f.m.ListNodeHistory(ctx, urls[0])
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, node.Deploying, history[0].State)
	assert.False(t, history[0].Open())
	assert.Equal(t, node.Free, history[1].State)
	assert.True(t, history[1].Open())

	require.Eventually(t, func() bool {
		return f.stat.Scope("manager").Gauge(stats.ManagerNodesFreeGauge).Value() == 3
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEmptyNodeSourceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.m.CreateNodeSource(ctx, nodesource.Definition{}, true)
	assert.True(t, rmerrors.IsValidation(err), "got %v", err)
	assert.True(t, rmerrors.IsValidation(f.store.UpsertNodeSource(ctx, db.NodeSourceData{})))
	sources, err := f.store.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 0)
	assert.Empty(t, f.m.ListNodeSources())
}

func TestInvalidDefinitionNeverReachesTheStore(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	store := db.NewMockGateway(mockCtrl)

	m, err := NewManager(nodesource.NewTypes(), store, testOptions())
	require.NoError(t, err)
	m.SetReady()
	defer m.Shutdown(context.Background())

	for _, def := range []nodesource.Definition{
		{},
		{Name: "bad name", InfrastructureType: "local", PolicyType: "static"},
		{Name: "ns1", InfrastructureType: "nope", PolicyType: "static"},
	} {
		err := m.CreateNodeSource(context.Background(), def, true)
		assert.True(t, rmerrors.IsValidation(err), "%+v: %v", def, err)
	}
}

func TestDefinitionPersistedBeforeDeployment(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	store := db.NewMockGateway(mockCtrl)
	types := nodesource.NewTypes()
	types.RegisterInfrastructure("none", func(string, []string, nodesource.Reporter) (nodesource.Infrastructure, error) {
		return nodesource.NewMockInfrastructure(mockCtrl), nil
	})

	gomock.InOrder(
		store.EXPECT().UpsertNodeSource(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, d db.NodeSourceData) error {
				assert.Equal(t, "UNDEFINED", d.Status)
				return nil
			}),
		store.EXPECT().UpsertNodeSource(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, d db.NodeSourceData) error {
				assert.Equal(t, "NODES_DEPLOYED", d.Status)
				return nil
			}),
	)

	var activated int32
	types.RegisterPolicy("count", func([]string) (nodesource.Policy, error) {
		p := nodesource.NewMockPolicy(mockCtrl)
		p.EXPECT().Activate(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, nodesource.Infrastructure) error {
			activated++
			return nil
		})
		return p, nil
	})

	m, err := NewManager(types, store, testOptions())
	require.NoError(t, err)
	m.SetReady()
	require.NoError(t, m.CreateNodeSource(context.Background(),
		nodesource.Definition{Name: "ns1", InfrastructureType: "none", PolicyType: "count"}, true))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.EqualValues(t, 1, activated)
}

func TestDuplicateNodeSource(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 1)
	err := f.m.CreateNodeSource(context.Background(), localSource("ns1", 1), true)
	assert.True(t, rmerrors.IsValidation(err))
}

func TestLimitPolicyRejectsExtraNodes(t *testing.T) {
	f := newFixture(t)
	def := localSource("ns1", 5)
	def.PolicyType = nodesource.LimitPolicyType
	def.PolicyParams = []string{"2"}
	require.NoError(t, f.m.CreateNodeSource(context.Background(), def, true))
	require.Eventually(t, func() bool {
		urls, _ := f.m.ListAliveNodeUrls("ns1")
		return len(urls) == 2
	}, 5*time.Second, 5*time.Millisecond)
}

func TestLockAllThenUnlockAll(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 3)
	f.deploy(t, "ns2", 2)
	ctx := context.Background()

	before, err := f.m.GetAllNodes()
	require.NoError(t, err)
	urls := urlsOf(before)

	ok, err := f.m.LockNodes(ctx, urls, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	locked, _ := f.m.GetAllNodes()
	for _, n := range locked {
		assert.True(t, n.Locked, n.URL)
		assert.False(t, n.IsFree())
	}
	ok, _ = f.m.LockNodes(ctx, urls[:1], "admin")
	assert.False(t, ok, "locking a locked node is a no-op")

	ok, err = f.m.UnlockNodes(ctx, urls)
	require.NoError(t, err)
	assert.True(t, ok)

	after, _ := f.m.GetAllNodes()
	assert.Equal(t, urls, urlsOf(after))
	for i, n := range after {
		assert.False(t, n.Locked)
		assert.Equal(t, before[i].State, n.State)
	}
	stored, _ := f.store.ListNodes(ctx)
	for _, d := range stored {
		assert.False(t, d.Locked, d.URL)
	}

	ok, _ = f.m.UnlockNodes(ctx, []string{"local://h1/ns1/unknown"})
	assert.False(t, ok)
}

func TestSelectAndRelease(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 3)
	ctx := context.Background()

	got, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 2}, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, n := range got {
		assert.Equal(t, node.Busy, n.State)
		assert.Equal(t, "job-1", n.Owner)
	}
	alive, _ := f.m.ListAliveNodeUrls()
	assert.Len(t, alive, 3, "busy nodes are alive")

	none, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 2}, "job-2")
	require.NoError(t, err)
	assert.Empty(t, none)
	one, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 2, BestEffort: true}, "job-2")
	require.NoError(t, err)
	assert.Len(t, one, 1)

	ok, err := f.m.ReleaseNodes(ctx, urlsOf(got))
	require.NoError(t, err)
	assert.True(t, ok)
	for _, u := range urlsOf(got) {
		n, _ := f.m.GetNode(u)
		assert.Equal(t, node.Free, n.State)
		assert.Empty(t, n.Owner)
	}
	ok, _ = f.m.ReleaseNodes(ctx, urlsOf(got))
	assert.False(t, ok, "free nodes cannot be released")
}

func TestSelectWithScripts(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 3)
	f.m.selector, _ = selection.NewManager(testOptions().Selection, selection.EvaluatorFunc(
		func(ctx context.Context, s selection.Script, b selection.Bindings, url string) (bool, error) {
			return url == urls[1], nil
		}), stats.NilStatsReceiver(), nil)

	got, err := f.m.SelectNodes(context.Background(), selection.Criteria{
		Count:   1,
		Scripts: []selection.Script{{Content: "check", Dynamic: true}},
	}, "job")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, urls[1], got[0].URL)
}

func TestSoftRemovalOfBusyNode(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 2)
	ctx := context.Background()
	got, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 1}, "job")
	require.NoError(t, err)
	url := got[0].URL

	require.NoError(t, f.m.RemoveNode(ctx, url, false))
	n, _ := f.m.GetNode(url)
	assert.Equal(t, node.ToRelease, n.State)
	assert.Contains(t, f.host.Alive(), url)

	ok, err := f.m.ReleaseNodes(ctx, []string{url})
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.m.GetNode(url)
	assert.Error(t, err)
	assert.NotContains(t, f.host.Alive(), url)
	assert.Len(t, f.host.Alive(), 1)
}

func TestRemoveNodeSourceWaitsForBusyNodes(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 3)
	ctx := context.Background()
	sub := f.bus.Subscribe()
	defer sub.Close()

	got, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 1}, "job")
	require.NoError(t, err)
	require.NoError(t, f.m.RemoveNodeSource(ctx, "ns1", false))

	s, err := f.m.NodeSourceSummary("ns1")
	require.NoError(t, err)
	assert.Equal(t, nodesource.Removing, s.Status)
	assert.Equal(t, map[string]int{"TO_RELEASE": 1}, s.NodeCounts)

	f.m.ReleaseNodes(ctx, urlsOf(got))
	assert.Empty(t, f.m.ListNodeSources())
	sources, _ := f.store.ListNodeSources(ctx)
	assert.Empty(t, sources)
	assert.Empty(t, f.host.Alive())

	var last events.Event
	for last.Type != events.NodeSourceRemoved {
		select {
		case last = <-sub.Events:
		case <-time.After(5 * time.Second):
			t.Fatal("no node source removed event")
		}
	}
	assert.Equal(t, "ns1", last.NodeSource)
}

func TestPreemptiveRemoval(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 2)
	ctx := context.Background()
	_, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 1}, "job")
	require.NoError(t, err)
	require.NoError(t, f.m.RemoveNodeSource(ctx, "ns1", true))
	all, _ := f.m.GetAllNodes()
	assert.Empty(t, all)
	assert.Empty(t, f.m.ListNodeSources())
}

func TestForcedRemovalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 2)
	ctx := context.Background()

	require.NoError(t, f.m.RemoveNode(ctx, urls[0], true))
	require.NoError(t, f.m.RemoveNode(ctx, urls[0], true), "second kill")
	err := f.m.RemoveNode(ctx, urls[0], false)
	assert.Equal(t, rmerrors.ErrUnknownNode, errors.Cause(err))

	require.NoError(t, f.m.RemoveNodeSource(ctx, "ns1", true))
	require.NoError(t, f.m.RemoveNodeSource(ctx, "ns1", true), "second kill")
	require.NoError(t, f.m.CompleteRemoval(ctx, "ns1"))
	err = f.m.RemoveNodeSource(ctx, "ns1", false)
	assert.Equal(t, rmerrors.ErrUnknownNodeSource, errors.Cause(err))

	assert.Empty(t, f.m.ListNodeSources())
	assert.Empty(t, f.host.Alive())
}

func TestRemovalDuringDeploymentLeavesNoNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.slow(2 * time.Millisecond)

	require.NoError(t, f.m.CreateNodeSource(ctx, localSource("ns1", 20), true))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.m.RemoveNodeSource(ctx, "ns1", true))
	require.NoError(t, f.m.Shutdown(ctx), "waits for the deployment")

	assert.Empty(t, f.m.nodes.All())
	assert.Empty(t, f.m.ListNodeSources())
	stored, err := f.store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	sources, err := f.store.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
	assert.Empty(t, f.host.Alive())
}

func TestLockSkipsNodesBeingReleased(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "ns1", 1)
	ctx := context.Background()
	got, err := f.m.SelectNodes(ctx, selection.Criteria{Count: 1}, "job")
	require.NoError(t, err)
	url := got[0].URL
	require.NoError(t, f.m.RemoveNode(ctx, url, false))

	ok, err := f.m.LockNodes(ctx, []string{url}, "admin")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := f.m.GetNode(url)
	assert.Equal(t, node.ToRelease, n.State)
	assert.False(t, n.Locked)
}

func TestDownNodeURLs(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 2)
	ctx := context.Background()
	assert.Empty(t, f.m.DownNodeURLs())

	require.NoError(t, f.m.SetNodeDown(ctx, urls[1], nil))
	assert.Equal(t, urls[1:], f.m.DownNodeURLs())
	assert.Equal(t, urls[:1], f.m.AliveNodeURLs())

	require.NoError(t, f.m.SetNodeAvailable(ctx, urls[1]))
	assert.Empty(t, f.m.DownNodeURLs())
}

func TestDownAndAvailable(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 2)
	ctx := context.Background()

	require.NoError(t, f.m.SetNodeDown(ctx, urls[0], rmerrors.NewLivenessTimeout(urls[0], context.DeadlineExceeded)))
	require.NoError(t, f.m.SetNodeDown(ctx, urls[0], nil), "already down")
	n, _ := f.m.GetNode(urls[0])
	assert.Equal(t, node.Down, n.State)
	assert.Equal(t, node.Free, n.PreviousState)
	alive, _ := f.m.ListAliveNodeUrls("ns1")
	assert.Equal(t, urls[1:], alive)

	got, _ := f.m.SelectNodes(ctx, selection.Criteria{Count: 2, BestEffort: true}, "job")
	assert.Len(t, got, 1, "down nodes are not selected")

	require.NoError(t, f.m.SetNodeAvailable(ctx, urls[0]))
	n, _ = f.m.GetNode(urls[0])
	assert.Equal(t, node.Free, n.State)

	history, _ := f.m.ListNodeHistory(ctx, urls[0])
	var states []node.State
	for _, h := range history {
		states = append(states, h.State)
	}
	assert.Equal(t, []node.State{node.Deploying, node.Free, node.Down, node.Free}, states)
}

func TestPersistenceFailureHoldsNodePending(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 2)
	ctx := context.Background()

	f.store.fail(true)
	ok, err := f.m.LockNodes(ctx, urls[:1], "admin")
	assert.True(t, ok)
	assert.True(t, rmerrors.IsPersistence(err), "got %v", err)

	n, _ := f.m.GetNode(urls[0])
	assert.True(t, n.Pending)
	assert.True(t, n.Locked)
	alive, _ := f.m.ListAliveNodeUrls()
	assert.Equal(t, urls[1:], alive, "pending nodes are reported down")
	s, _ := f.m.NodeSourceSummary("ns1")
	assert.Equal(t, 1, s.NodeCounts["DOWN_PENDING"])
	assert.Equal(t, 1, f.m.PendingCount())

	assert.Equal(t, 0, f.m.FlushPending(ctx))
	f.store.fail(false)
	assert.Equal(t, 1, f.m.FlushPending(ctx))
	n, _ = f.m.GetNode(urls[0])
	assert.False(t, n.Pending)
	stored, _ := f.store.ListNodes(ctx)
	sort.Slice(stored, func(i, j int) bool { return stored[i].URL < stored[j].URL })
	assert.True(t, stored[0].Locked)
}

func TestPendingRemovalIsRetried(t *testing.T) {
	f := newFixture(t)
	urls := f.deploy(t, "ns1", 1)
	ctx := context.Background()

	f.store.fail(true)
	err := f.m.RemoveNode(ctx, urls[0], true)
	assert.True(t, rmerrors.IsPersistence(err))
	n, err := f.m.GetNode(urls[0])
	require.NoError(t, err, "node stays until the store agrees")
	assert.True(t, n.Pending)

	f.store.fail(false)
	f.m.FlushPending(ctx)
	_, err = f.m.GetNode(urls[0])
	assert.Error(t, err)
	assert.Empty(t, f.host.Alive())
}

func TestRequestsWaitForReady(t *testing.T) {
	m, err := NewManager(nodesource.NewTypes(), db.NewMemory(), testOptions())
	require.NoError(t, err)
	_, err = m.GetAllNodes()
	assert.Equal(t, rmerrors.ErrNotReady, err)
	m.SetReady()
	_, err = m.GetAllNodes()
	assert.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))
	_, err = m.GetAllNodes()
	assert.Equal(t, rmerrors.ErrShutdown, err)
}
