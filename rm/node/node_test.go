package node

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

var now = time.Unix(1000, 0)

func TestTransitions(t *testing.T) {
	n := Node{URL: "local://h/ns/a", State: Deploying}
	steps := []State{Free, Busy, Free, Busy, ToRelease, Down}
	for _, s := range steps {
		prev := n.State
		if err := n.Transition(s, now); err != nil {
			t.Fatalf("%s -> %s: %v", prev, s, err)
		}
		if n.PreviousState != prev {
			t.Errorf("expected previous %s, got %s", prev, n.PreviousState)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{Deploying, Busy},
		{Free, ToRelease},
		{Free, Free},
		{ToRelease, Free},
		{Down, Free},
		{Down, Busy},
		{Down, Down},
	}
	for _, c := range cases {
		n := Node{URL: "u", State: c.from}
		err := n.Transition(c.to, now)
		if err == nil || !isCause(err, rmerrors.ErrIllegalTransition) {
			t.Errorf("%s -> %s should be illegal, got %v", c.from, c.to, err)
		}
		if n.State != c.from {
			t.Errorf("failed transition changed state to %s", n.State)
		}
	}
}

func TestRestore(t *testing.T) {
	n := Node{URL: "u", State: Busy}
	n.Transition(Down, now)
	if n.RestorableState() != Busy {
		t.Errorf("expected BUSY to be restorable, got %s", n.RestorableState())
	}
	if err := n.Restore(Busy, now); err != nil {
		t.Fatal(err)
	}
	if err := n.Restore(Free, now); err == nil {
		t.Errorf("restore from a non DOWN state should fail")
	}

	d := Node{URL: "u", State: Down, PreviousState: Deploying}
	if d.RestorableState() != Free {
		t.Errorf("transient previous state should settle to FREE")
	}
	if err := d.Restore(ToRelease, now); err == nil {
		t.Errorf("restore to a transient state should fail")
	}
}

func TestLockOverlay(t *testing.T) {
	n := Node{URL: "u", State: Free}
	if !n.Lock("admin", now) || !n.Locked || n.LockedBy != "admin" {
		t.Fatalf("lock failed: %+v", n)
	}
	if n.Lock("other", now.Add(time.Second)) {
		t.Errorf("second lock should be a no-op")
	}
	if n.LockedBy != "admin" || !n.LockTime.Equal(now) {
		t.Errorf("no-op lock changed the owner: %+v", n)
	}
	if n.IsFree() {
		t.Errorf("locked node must not be free")
	}
	if n.State != Free {
		t.Errorf("locking changed the state to %s", n.State)
	}
	if !n.Unlock() || n.Unlock() {
		t.Errorf("unlock should succeed once")
	}
	if !n.IsFree() {
		t.Errorf("unlocked free node should be free")
	}
}

func TestPendingIsNotAlive(t *testing.T) {
	n := Node{URL: "u", State: Free, Pending: true}
	if n.IsAlive() || n.IsFree() {
		t.Errorf("pending node must be neither alive nor free")
	}
}

func TestParseState(t *testing.T) {
	for _, s := range AllStates() {
		p, err := ParseState(s.String())
		if err != nil || p != s {
			t.Errorf("round trip of %s gave %s, %v", s, p, err)
		}
	}
	if _, err := ParseState("LOCKED"); !rmerrors.IsValidation(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestStateJSONUsesNames(t *testing.T) {
	b, err := json.Marshal(Node{URL: "u", State: ToRelease, PreviousState: Busy})
	if err != nil {
		t.Fatal(err)
	}
	var back struct {
		State         string
		PreviousState State
	}
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.State != "TO_RELEASE" || back.PreviousState != Busy {
		t.Errorf("unexpected encoding %s", b)
	}
}

// The final lock flag equals the last operation applied, whatever came before.
func TestLockUnlockLastWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("locked equals last op", prop.ForAll(
		func(ops []bool) bool {
			if len(ops) == 0 {
				return true
			}
			n := Node{URL: "u", State: Free}
			for _, lock := range ops {
				if lock {
					n.Lock("p", now)
				} else {
					n.Unlock()
				}
			}
			return n.Locked == ops[len(ops)-1]
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
