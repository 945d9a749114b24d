// Package node holds the per-node record and its lifecycle state machine.
package node

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

// Node is one remote compute node owned by a node source.
//
// Values are copied in and out of the registry; a Node held by a caller is a
// snapshot and mutating it has no effect on the manager.
type Node struct {
	URL            string
	HostName       string
	NodeSourceName string
	Provider       string
	Owner          string
	JVMName        string

	State           State
	PreviousState   State
	StateChangeTime time.Time

	Locked   bool
	LockedBy string
	LockTime time.Time

	// Pending is set while the last committed change has not reached the
	// store. A pending node is reported as DOWN-pending and never handed out.
	Pending bool
}

func (n Node) String() string {
	lock := ""
	if n.Locked {
		lock = ",locked"
	}
	pending := ""
	if n.Pending {
		pending = ",pending"
	}
	return fmt.Sprintf("%s[%s%s%s]", n.URL, n.State, lock, pending)
}

// Transition moves the node along the normal lifecycle path.
func (n *Node) Transition(to State, now time.Time) error {
	if !CanTransition(n.State, to) {
		return errors.Wrapf(rmerrors.ErrIllegalTransition, "%s: %s -> %s", n.URL, n.State, to)
	}
	n.set(to, now)
	return nil
}

// Restore brings a DOWN node back to the state it had before it went down.
// Only FREE and BUSY may be restored.
func (n *Node) Restore(to State, now time.Time) error {
	if n.State != Down || (to != Free && to != Busy) {
		return errors.Wrapf(rmerrors.ErrIllegalTransition, "%s: restore %s -> %s", n.URL, n.State, to)
	}
	n.set(to, now)
	return nil
}

func (n *Node) set(to State, now time.Time) {
	n.PreviousState = n.State
	n.State = to
	n.StateChangeTime = now
}

// RestorableState is the stable state an alive node should settle in after a
// restart: the last state that was not transient, FREE when there is none.
func (n Node) RestorableState() State {
	s := n.State
	if s == Down {
		s = n.PreviousState
	}
	if s == Busy {
		return Busy
	}
	return Free
}

// Lock sets the lock overlay. It reports false when the node was already
// locked, leaving the original lock owner and time in place.
func (n *Node) Lock(by string, now time.Time) bool {
	if n.Locked {
		return false
	}
	n.Locked = true
	n.LockedBy = by
	n.LockTime = now
	return true
}

// Unlock clears the lock overlay. It reports false when the node was not locked.
func (n *Node) Unlock() bool {
	if !n.Locked {
		return false
	}
	n.Locked = false
	n.LockedBy = ""
	n.LockTime = time.Time{}
	return true
}

// IsFree reports whether the node can be handed to a consumer.
func (n Node) IsFree() bool {
	return n.State == Free && !n.Locked && !n.Pending
}

// IsAlive reports whether the node is usable at all.
func (n Node) IsAlive() bool {
	return n.State != Down && !n.Pending
}
