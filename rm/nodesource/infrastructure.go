package nodesource

//go:generate mockgen -source=infrastructure.go -package=nodesource -destination=mock_infrastructure.go

import "context"

// AcquiredNode describes a node an infrastructure has started.
type AcquiredNode struct {
	URL      string
	HostName string
	JVMName  string
}

// Reporter receives availability events from an infrastructure. Calls may
// come from any goroutine, including the one that called AcquireNodes.
type Reporter interface {
	// A node exists and is being set up.
	NodeAcquired(n AcquiredNode)
	// A previously acquired node is ready for work.
	NodeReady(url string)
	// A node disappeared or could not be set up.
	NodeLost(url string, cause error)
}

// Infrastructure creates and destroys compute nodes.
type Infrastructure interface {
	// AcquireNodes starts up to count nodes. Availability is reported through
	// the Reporter; an error means none of the remaining nodes will come.
	AcquireNodes(ctx context.Context, count int) error
	// ReleaseNode destroys a node. Releasing an unknown node is not an error.
	ReleaseNode(ctx context.Context, url string) error
	// Capacity is the most nodes this infrastructure can provide, 0 if unbounded.
	Capacity() int
	// Shutdown releases whatever the infrastructure holds itself.
	Shutdown(ctx context.Context) error
}

// Recoverer is implemented by infrastructures that can take back ownership
// of a node they started before a restart.
type Recoverer interface {
	RecoverNode(url string) error
}

// Policy decides how many nodes to acquire and which offered nodes to keep.
type Policy interface {
	// Activate is called once the source is deployed and requests its
	// initial nodes.
	Activate(ctx context.Context, infra Infrastructure) error
	// Accept reports whether a newly offered node may join a source that
	// already owns the given number of nodes.
	Accept(owned int) bool
}
