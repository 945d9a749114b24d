package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/db/dbtest"
	"github.com/twitter/nodepool/rm/node"
	"github.com/twitter/nodepool/rm/nodesource"
)

func TestMemoryGateway(t *testing.T) {
	dbtest.Run(t, dbtest.Factory{
		Open: func(t *testing.T) db.Gateway { return db.NewMemory() },
		Reopen: func(t *testing.T, g db.Gateway) db.Gateway {
			g.Close()
			return g.(*db.Memory).Reopen()
		},
	})
}

func TestClosedMemoryFails(t *testing.T) {
	m := db.NewMemory()
	m.Close()
	if _, err := m.ListNodes(context.Background()); err == nil {
		t.Errorf("closed gateway should fail")
	}
}

func TestNodeDataRoundTrip(t *testing.T) {
	n := node.Node{
		URL: "local://h/ns1/a", HostName: "h", NodeSourceName: "ns1",
		State: node.Busy, PreviousState: node.Free, StateChangeTime: time.Unix(10, 0),
		Locked: true, LockedBy: "admin", LockTime: time.Unix(20, 0),
	}
	back, err := db.NodeDataOf(n).Node()
	if err != nil {
		t.Fatal(err)
	}
	if back != n {
		t.Errorf("round trip changed the node: %+v", back)
	}

	bad := db.NodeDataOf(n)
	bad.State = "SLEEPING"
	if _, err := bad.Node(); !rmerrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestNodeSourceDataOf(t *testing.T) {
	def := nodesource.Definition{Name: "ns1", InfrastructureType: "local", InfrastructureParams: []string{"2"}, PolicyType: "static"}
	d := db.NodeSourceDataOf(def, nodesource.Removing)
	if d.Status != "REMOVING" || d.Definition().Name != "ns1" || d.Definition().InfrastructureParams[0] != "2" {
		t.Errorf("unexpected conversion %+v", d)
	}
}

func TestRetry(t *testing.T) {
	policy := db.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 50 * time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := db.Retry(ctx, policy, "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success on third call, got %v after %d", err, calls)
	}

	err = db.Retry(ctx, policy, "down", func() error { return errors.New("disk gone") })
	if !rmerrors.IsPersistence(err) {
		t.Errorf("expected persistence error, got %v", err)
	}

	calls = 0
	err = db.Retry(ctx, policy, "invalid", func() error {
		calls++
		return rmerrors.NewValidationError("name", "empty")
	})
	if !rmerrors.IsValidation(err) || calls != 1 {
		t.Errorf("validation errors must not be retried: %v after %d calls", err, calls)
	}
}
