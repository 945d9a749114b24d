package node

import (
	"strings"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

// State is where a node is in its lifecycle. Locking is tracked separately
// and never changes the state.
type State int

const (
	Deploying State = iota
	Free
	Busy
	ToRelease
	Down
)

var stateNames = []string{"DEPLOYING", "FREE", "BUSY", "TO_RELEASE", "DOWN"}

func (s State) String() string {
	if s < Deploying || s > Down {
		return "UNKNOWN"
	}
	return stateNames[s]
}

func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), nil
		}
	}
	return 0, rmerrors.NewValidationError("state", "unknown node state %q", name)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AllStates lists every state in lifecycle order.
func AllStates() []State {
	return []State{Deploying, Free, Busy, ToRelease, Down}
}

// Transient states are never restored by recovery: a node found alive in
// one of them is settled into a stable state instead.
func (s State) Transient() bool {
	return s == Deploying || s == ToRelease
}

// transitions lists the moves allowed on the normal path. Leaving DOWN is
// only possible through Restore.
var transitions = map[State][]State{
	Deploying: {Free, Down},
	Free:      {Busy, Down},
	Busy:      {Free, ToRelease, Down},
	ToRelease: {Down},
	Down:      {},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
