// Package nodesource groups nodes under a named acquisition strategy: one
// Infrastructure that creates and destroys nodes and one Policy that decides
// how many to ask for and which offered nodes to keep.
package nodesource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

type Status int

const (
	// Definition loaded, capabilities not yet instantiated.
	Undefined Status = iota
	NodesDeployed
	Removing
	// Terminal.
	Lost
)

var statusNames = []string{"UNDEFINED", "NODES_DEPLOYED", "REMOVING", "LOST"}

func (s Status) String() string {
	if s < Undefined || s > Lost {
		return "UNKNOWN"
	}
	return statusNames[s]
}

func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, rmerrors.NewValidationError("status", "unknown node source status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var statusTransitions = map[Status][]Status{
	Undefined:     {NodesDeployed, Removing, Lost},
	NodesDeployed: {Removing, Lost},
	Removing:      {Lost},
	Lost:          {},
}

func canMove(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Definition is everything needed to rebuild a node source after a restart.
// Parameters are handed to the type constructors as-is.
type Definition struct {
	Name                 string
	InfrastructureType   string
	InfrastructureParams []string
	PolicyType           string
	PolicyParams         []string
	Provider             string
	// When false, nodes are not reconnected after a restart: the source is
	// asked for the same number of fresh nodes instead.
	NodesRecoverable bool
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return rmerrors.NewValidationError("name", "node source name must not be empty")
	}
	if strings.ContainsAny(d.Name, "/ \t\n") {
		return rmerrors.NewValidationError("name", "node source name %q contains a separator", d.Name)
	}
	if d.InfrastructureType == "" {
		return rmerrors.NewValidationError("infrastructure_type", "must not be empty")
	}
	if d.PolicyType == "" {
		return rmerrors.NewValidationError("policy_type", "must not be empty")
	}
	return nil
}

// NodeSource is the live instance of a Definition. Status changes are
// serialized by the source's own lock.
type NodeSource struct {
	mu      sync.Mutex
	def     Definition
	status  Status
	infra   Infrastructure
	policy  Policy
	err     error
	created time.Time
}

// New returns an UNDEFINED node source. Instantiate must succeed before
// it can deploy nodes.
func New(def Definition, now time.Time) *NodeSource {
	return &NodeSource{def: def, status: Undefined, created: now}
}

// Instantiate builds the infrastructure and policy from the definition. On
// failure the source keeps its UNDEFINED status and remembers the error.
func (ns *NodeSource) Instantiate(types *Types, reporter Reporter) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	infra, err := types.newInfrastructure(ns.def, reporter)
	if err != nil {
		ns.err = err
		return err
	}
	policy, err := types.newPolicy(ns.def)
	if err != nil {
		ns.err = err
		return err
	}
	ns.infra, ns.policy, ns.err = infra, policy, nil
	return nil
}

// SetStatus moves the source to a new status. Moving to the current status
// is a no-op.
func (ns *NodeSource) SetStatus(to Status) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.status == to {
		return nil
	}
	if !canMove(ns.status, to) {
		return errors.Wrapf(rmerrors.ErrIllegalTransition, "node source %s: %s -> %s", ns.def.Name, ns.status, to)
	}
	if to == NodesDeployed && ns.infra == nil {
		return errors.Wrapf(rmerrors.ErrIllegalTransition, "node source %s is not instantiated", ns.def.Name)
	}
	ns.status = to
	return nil
}

// Deploy asks the policy to acquire the initial set of nodes.
func (ns *NodeSource) Deploy(ctx context.Context) error {
	infra, policy := ns.capabilities()
	if infra == nil {
		return rmerrors.NewInfrastructureError(ns.def.Name, fmt.Errorf("not instantiated"))
	}
	if err := policy.Activate(ctx, infra); err != nil {
		return rmerrors.NewInfrastructureError(ns.def.Name, err)
	}
	return nil
}

// Accept asks the policy whether a node offered by the infrastructure should
// join, given the number of nodes the source already owns.
func (ns *NodeSource) Accept(owned int) bool {
	_, policy := ns.capabilities()
	if policy == nil || ns.Status() != NodesDeployed {
		return false
	}
	return policy.Accept(owned)
}

func (ns *NodeSource) capabilities() (Infrastructure, Policy) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.infra, ns.policy
}

func (ns *NodeSource) Name() string { return ns.def.Name }

func (ns *NodeSource) Definition() Definition {
	d := ns.def
	d.InfrastructureParams = append([]string(nil), ns.def.InfrastructureParams...)
	d.PolicyParams = append([]string(nil), ns.def.PolicyParams...)
	return d
}

func (ns *NodeSource) Status() Status {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.status
}

// Infrastructure is nil until Instantiate succeeds.
func (ns *NodeSource) Infrastructure() Infrastructure {
	infra, _ := ns.capabilities()
	return infra
}

// Err is the last instantiation failure, if any.
func (ns *NodeSource) Err() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.err
}

func (ns *NodeSource) Created() time.Time { return ns.created }

// Summary is a point-in-time description of a node source for reporting.
type Summary struct {
	Definition Definition
	Status     Status
	Error      string
	NodeCounts map[string]int
}
