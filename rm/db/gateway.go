// Package db is the durable store behind crash recovery. It is read once at
// startup and written on every durable state change; nothing else reads it.
package db

import (
	"context"
	"time"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
)

//go:generate mockgen -source=gateway.go -package=db -destination=mock_gateway.go

// Gateway is implemented by every store. Writes are synchronous: when a
// method returns nil the change is durable. Batch methods are atomic.
type Gateway interface {
	ListNodeSources(ctx context.Context) ([]NodeSourceData, error)
	ListNodes(ctx context.Context) ([]NodeData, error)

	// UpsertNodeSource rejects data without a name with a ValidationError.
	UpsertNodeSource(ctx context.Context, data NodeSourceData) error
	// DeleteNodeSource fails while nodes still reference the source.
	DeleteNodeSource(ctx context.Context, name string) error

	// UpsertNodes fails without writing anything if any node references an
	// unknown node source.
	UpsertNodes(ctx context.Context, nodes ...NodeData) error
	DeleteNodes(ctx context.Context, urls ...string) error

	AppendNodeHistory(ctx context.Context, h node.History) (int64, error)
	// CloseNodeHistory ends the open record of url, if there is one.
	CloseNodeHistory(ctx context.Context, url string, end time.Time) error
	// ListNodeHistory returns the records of url oldest first; all records
	// when url is empty.
	ListNodeHistory(ctx context.Context, url string) ([]node.History, error)

	Close() error
}

// NodeSourceData is the stored form of a node source definition.
type NodeSourceData struct {
	Name                 string   `json:"name"`
	InfrastructureType   string   `json:"infrastructureType"`
	InfrastructureParams []string `json:"infrastructureParams"`
	PolicyType           string   `json:"policyType"`
	PolicyParams         []string `json:"policyParams"`
	Provider             string   `json:"provider"`
	NodesRecoverable     bool     `json:"nodesRecoverable"`
	Status               string   `json:"status"`
}

func (d NodeSourceData) Validate() error {
	if d.Name == "" {
		return rmerrors.NewValidationError("name", "node source data has no name")
	}
	return nil
}

func NodeSourceDataOf(def nodesource.Definition, status nodesource.Status) NodeSourceData {
	return NodeSourceData{
		Name:                 def.Name,
		InfrastructureType:   def.InfrastructureType,
		InfrastructureParams: def.InfrastructureParams,
		PolicyType:           def.PolicyType,
		PolicyParams:         def.PolicyParams,
		Provider:             def.Provider,
		NodesRecoverable:     def.NodesRecoverable,
		Status:               status.String(),
	}
}

func (d NodeSourceData) Definition() nodesource.Definition {
	return nodesource.Definition{
		Name:                 d.Name,
		InfrastructureType:   d.InfrastructureType,
		InfrastructureParams: d.InfrastructureParams,
		PolicyType:           d.PolicyType,
		PolicyParams:         d.PolicyParams,
		Provider:             d.Provider,
		NodesRecoverable:     d.NodesRecoverable,
	}
}

// NodeData is the stored form of a node.
type NodeData struct {
	URL             string    `json:"url"`
	HostName        string    `json:"hostName"`
	NodeSourceName  string    `json:"nodeSourceName"`
	Provider        string    `json:"provider"`
	Owner           string    `json:"owner"`
	JVMName         string    `json:"jvmName"`
	State           string    `json:"state"`
	PreviousState   string    `json:"previousState"`
	StateChangeTime time.Time `json:"stateChangeTime"`
	Locked          bool      `json:"locked"`
	LockedBy        string    `json:"lockedBy"`
	LockTime        time.Time `json:"lockTime"`
}

func NodeDataOf(n node.Node) NodeData {
	return NodeData{
		URL:             n.URL,
		HostName:        n.HostName,
		NodeSourceName:  n.NodeSourceName,
		Provider:        n.Provider,
		Owner:           n.Owner,
		JVMName:         n.JVMName,
		State:           n.State.String(),
		PreviousState:   n.PreviousState.String(),
		StateChangeTime: n.StateChangeTime,
		Locked:          n.Locked,
		LockedBy:        n.LockedBy,
		LockTime:        n.LockTime,
	}
}

func (d NodeData) Node() (node.Node, error) {
	state, err := node.ParseState(d.State)
	if err != nil {
		return node.Node{}, err
	}
	prev, err := node.ParseState(d.PreviousState)
	if err != nil {
		return node.Node{}, err
	}
	return node.Node{
		URL:             d.URL,
		HostName:        d.HostName,
		NodeSourceName:  d.NodeSourceName,
		Provider:        d.Provider,
		Owner:           d.Owner,
		JVMName:         d.JVMName,
		State:           state,
		PreviousState:   prev,
		StateChangeTime: d.StateChangeTime,
		Locked:          d.Locked,
		LockedBy:        d.LockedBy,
		LockTime:        d.LockTime,
	}, nil
}
