// Package dbtest holds the behaviour every db.Gateway must share.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/node"
)

// Factory opens a fresh, empty gateway. Reopen closes g and opens the same
// store again, as a restarted process would.
type Factory struct {
	Open   func(t *testing.T) db.Gateway
	Reopen func(t *testing.T, g db.Gateway) db.Gateway
}

var epoch = time.Unix(1500000000, 0)

func Source(name string) db.NodeSourceData {
	return db.NodeSourceData{
		Name:                 name,
		InfrastructureType:   "local",
		InfrastructureParams: []string{"3"},
		PolicyType:           "static",
		PolicyParams:         []string{},
		Provider:             "admin",
		NodesRecoverable:     true,
		Status:               "NODES_DEPLOYED",
	}
}

func Node(url, source string) db.NodeData {
	return db.NodeData{
		URL:             url,
		HostName:        "h1",
		NodeSourceName:  source,
		Provider:        "admin",
		JVMName:         "jvm",
		State:           node.Free.String(),
		PreviousState:   node.Deploying.String(),
		StateChangeTime: epoch,
	}
}

// Run executes the shared gateway tests.
func Run(t *testing.T, f Factory) {
	t.Run("Empty", func(t *testing.T) { testEmpty(t, f) })
	t.Run("RejectsUnnamedSource", func(t *testing.T) { testRejectsUnnamedSource(t, f) })
	t.Run("NodeSources", func(t *testing.T) { testNodeSources(t, f) })
	t.Run("NodesNeedTheirSource", func(t *testing.T) { testNodesNeedTheirSource(t, f) })
	t.Run("Nodes", func(t *testing.T) { testNodes(t, f) })
	t.Run("SourceRemovedAfterNodes", func(t *testing.T) { testSourceRemovedAfterNodes(t, f) })
	t.Run("History", func(t *testing.T) { testHistory(t, f) })
	t.Run("SurvivesReopen", func(t *testing.T) { testSurvivesReopen(t, f) })
}

func testEmpty(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	sources, err := g.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
	nodes, err := g.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func testRejectsUnnamedSource(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	err := g.UpsertNodeSource(ctx, db.NodeSourceData{})
	assert.True(t, rmerrors.IsValidation(err), "got %v", err)
	sources, err := g.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 0)
}

func testNodeSources(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns2")))
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns1")))

	removing := Source("ns2")
	removing.Status = "REMOVING"
	require.NoError(t, g.UpsertNodeSource(ctx, removing))

	sources, err := g.ListNodeSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, Source("ns1"), sources[0])
	assert.Equal(t, removing, sources[1])
}

func testNodesNeedTheirSource(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns1")))

	err := g.UpsertNodes(ctx, Node("local://h1/ns1/a", "ns1"), Node("local://h1/nsX/b", "nsX"))
	assert.Error(t, err)
	nodes, err := g.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes, "a failed batch must not write anything")
}

func testNodes(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns1")))
	require.NoError(t, g.UpsertNodes(ctx,
		Node("local://h1/ns1/c", "ns1"), Node("local://h1/ns1/a", "ns1"), Node("local://h1/ns1/b", "ns1")))

	locked := Node("local://h1/ns1/b", "ns1")
	locked.Locked = true
	locked.LockedBy = "admin"
	locked.LockTime = epoch.Add(time.Minute)
	require.NoError(t, g.UpsertNodes(ctx, locked))
	require.NoError(t, g.DeleteNodes(ctx, "local://h1/ns1/c", "local://h1/ns1/unknown"))

	nodes, err := g.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assertNode(t, Node("local://h1/ns1/a", "ns1"), nodes[0])
	assertNode(t, locked, nodes[1])

	n, err := nodes[1].Node()
	require.NoError(t, err)
	assert.Equal(t, node.Free, n.State)
	assert.True(t, n.Locked)
}

func testSourceRemovedAfterNodes(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns1")))
	require.NoError(t, g.UpsertNodes(ctx, Node("local://h1/ns1/a", "ns1")))

	assert.Error(t, g.DeleteNodeSource(ctx, "ns1"))
	require.NoError(t, g.DeleteNodes(ctx, "local://h1/ns1/a"))
	require.NoError(t, g.DeleteNodeSource(ctx, "ns1"))
	require.NoError(t, g.DeleteNodeSource(ctx, "ns1"), "deleting twice is not an error")

	sources, err := g.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func testHistory(t *testing.T, f Factory) {
	g := f.Open(t)
	defer g.Close()
	ctx := context.Background()
	url := "local://h1/ns1/a"

	free := node.History{Host: "h1", NodeSourceName: "ns1", NodeURL: url, Provider: "admin", State: node.Free, Start: epoch}
	id1, err := g.AppendNodeHistory(ctx, free)
	require.NoError(t, err)
	require.NoError(t, g.CloseNodeHistory(ctx, url, epoch.Add(time.Minute)))

	busy := free
	busy.State = node.Busy
	busy.Start = epoch.Add(time.Minute)
	id2, err := g.AppendNodeHistory(ctx, busy)
	require.NoError(t, err)
	assert.True(t, id2 > id1)

	other := free
	other.NodeURL = "local://h1/ns1/b"
	_, err = g.AppendNodeHistory(ctx, other)
	require.NoError(t, err)

	records, err := g.ListNodeHistory(ctx, url)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, node.Free, records[0].State)
	assert.True(t, records[0].End.Equal(epoch.Add(time.Minute)))
	assert.Equal(t, node.Busy, records[1].State)
	assert.True(t, records[1].Open())

	all, err := g.ListNodeHistory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testSurvivesReopen(t *testing.T, f Factory) {
	g := f.Open(t)
	ctx := context.Background()
	require.NoError(t, g.UpsertNodeSource(ctx, Source("ns1")))
	require.NoError(t, g.UpsertNodes(ctx, Node("local://h1/ns1/a", "ns1")))

	g = f.Reopen(t, g)
	defer g.Close()
	sources, err := g.ListNodeSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []db.NodeSourceData{Source("ns1")}, sources)
	nodes, err := g.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assertNode(t, Node("local://h1/ns1/a", "ns1"), nodes[0])
}

func assertNode(t *testing.T, expected, actual db.NodeData) {
	t.Helper()
	assert.True(t, expected.StateChangeTime.Equal(actual.StateChangeTime), "state change time %v != %v", expected.StateChangeTime, actual.StateChangeTime)
	assert.True(t, expected.LockTime.Equal(actual.LockTime), "lock time %v != %v", expected.LockTime, actual.LockTime)
	expected.StateChangeTime, actual.StateChangeTime = time.Time{}, time.Time{}
	expected.LockTime, actual.LockTime = time.Time{}, time.Time{}
	assert.Equal(t, expected, actual)
}
