package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/node"
)

func makeNode(i int, src string, s node.State) node.Node {
	return node.Node{URL: fmt.Sprintf("local://h/%s/n%d", src, i), NodeSourceName: src, HostName: "h", State: s}
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	n := makeNode(1, "ns1", node.Free)
	if err := r.Add(n); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(n); !rmerrors.IsValidation(err) {
		t.Errorf("duplicate add should fail validation, got %v", err)
	}
	if got, ok := r.Get(n.URL); !ok || got != n {
		t.Errorf("unexpected get: %v %v", got, ok)
	}
	if _, ok := r.Remove(n.URL); !ok {
		t.Errorf("remove failed")
	}
	if _, ok := r.Get(n.URL); ok || r.Len() != 0 {
		t.Errorf("node still present after remove")
	}
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	r := New()
	n := makeNode(1, "ns1", node.Free)
	r.Add(n)

	boom := errors.New("boom")
	_, err := r.Update(n.URL, func(n *node.Node) error {
		n.State = node.Busy
		return boom
	})
	if err != boom {
		t.Errorf("expected fn error, got %v", err)
	}
	if got, _ := r.Get(n.URL); got.State != node.Free {
		t.Errorf("failed update leaked state %s", got.State)
	}

	updated, err := r.Update(n.URL, func(n *node.Node) error { return n.Transition(node.Busy, time.Now()) })
	if err != nil || updated.State != node.Busy {
		t.Errorf("unexpected update result %v %v", updated, err)
	}
	if _, err := r.Update("missing", func(*node.Node) error { return nil }); errors.Cause(err) != rmerrors.ErrUnknownNode {
		t.Errorf("expected unknown node, got %v", err)
	}
}

func TestRemoveIf(t *testing.T) {
	r := New()
	n := makeNode(1, "ns1", node.Busy)
	r.Add(n)
	keep := errors.New("busy")
	if _, err := r.RemoveIf(n.URL, func(n node.Node) error {
		if n.State == node.Busy {
			return keep
		}
		return nil
	}); err != keep {
		t.Errorf("expected veto, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("vetoed removal removed the node")
	}
}

func TestSelectSortedAndFiltered(t *testing.T) {
	r := New()
	for i := 5; i > 0; i-- {
		r.Add(makeNode(i, "ns1", node.Free))
		r.Add(makeNode(i, "ns2", node.Down))
	}
	all := r.All()
	if len(all) != 10 {
		t.Fatalf("expected 10 nodes, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].URL > all[i].URL {
			t.Errorf("not sorted: %s > %s", all[i-1].URL, all[i].URL)
		}
	}
	if len(r.BySource("ns2")) != 5 {
		t.Errorf("unexpected by-source count")
	}
	if free := r.Select(node.Node.IsFree); len(free) != 5 {
		t.Errorf("expected 5 free, got %d", len(free))
	}
}

func TestReplace(t *testing.T) {
	r := New()
	old := makeNode(1, "ns1", node.Free)
	r.Add(old)
	r.Replace([]node.Node{makeNode(2, "ns1", node.Busy), makeNode(3, "ns1", node.Free)})
	if _, ok := r.Get(old.URL); ok {
		t.Errorf("replaced node still visible")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", r.Len())
	}
}

func TestConcurrentUpdatesSerializePerNode(t *testing.T) {
	r := New()
	n := makeNode(1, "ns1", node.Free)
	r.Add(n)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(lock bool) {
			defer wg.Done()
			r.Update(n.URL, func(n *node.Node) error {
				if lock {
					n.Lock("x", time.Now())
				} else {
					n.Unlock()
				}
				return nil
			})
		}(i%2 == 0)
	}
	wg.Wait()
	r.Update(n.URL, func(n *node.Node) error { n.Lock("final", time.Now()); return nil })
	if got, _ := r.Get(n.URL); !got.Locked {
		t.Errorf("last lock lost")
	}
}

func TestUpdateAll(t *testing.T) {
	r := New()
	a, b := makeNode(1, "ns1", node.Free), makeNode(2, "ns1", node.Free)
	r.Add(a)
	r.Add(b)

	_, missing, err := r.UpdateAll([]string{b.URL, "local://h/ns1/gone", a.URL, a.URL}, func(ns []*node.Node) error {
		if len(ns) != 2 || ns[0].URL != a.URL {
			t.Errorf("expected a then b, got %v", ns)
		}
		for _, n := range ns {
			n.Lock("admin", time.Time{})
		}
		return errors.New("store down")
	})
	if err == nil || len(missing) != 1 {
		t.Errorf("expected failure with one missing url, got %v %v", err, missing)
	}
	if n, _ := r.Get(a.URL); n.Locked {
		t.Errorf("failed batch must not commit")
	}

	updated, _, err := r.UpdateAll([]string{a.URL, b.URL}, func(ns []*node.Node) error {
		for _, n := range ns {
			n.Lock("admin", time.Time{})
		}
		return nil
	})
	if err != nil || len(updated) != 2 {
		t.Fatalf("unexpected result %v %v", updated, err)
	}
	for _, n := range r.All() {
		if !n.Locked {
			t.Errorf("%s should be locked", n.URL)
		}
	}
}
