// Package badger is a db.Gateway on an embedded Badger key-value store.
// Records are JSON values under typed key prefixes.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/node"
)

var (
	sourcePrefix    = []byte("source:")
	nodePrefix      = []byte("node:")
	historyPrefix   = []byte("history:")
	historySeqKey   = []byte("seq:history")
	historyLeaseLen = uint64(100)
)

type Gateway struct {
	db  *badger.DB
	seq *badger.Sequence
}

// historyRecord keeps the state as a name so stored records stay readable
// if the state enum is ever reordered.
type historyRecord struct {
	ID             int64     `json:"id"`
	Host           string    `json:"host"`
	NodeSourceName string    `json:"nodeSourceName"`
	NodeURL        string    `json:"nodeUrl"`
	Provider       string    `json:"provider"`
	State          string    `json:"state"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

func Open(path string) (*Gateway, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts.SyncWrites = true
	opts = opts.WithValueLogFileSize(1 << 20)
	conn, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}
	seq, err := conn.GetSequence(historySeqKey, historyLeaseLen)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "history sequence")
	}
	return &Gateway{db: conn, seq: seq}, nil
}

func (g *Gateway) Close() error {
	if err := g.seq.Release(); err != nil {
		g.db.Close()
		return err
	}
	return g.db.Close()
}

func key(prefix []byte, id string) []byte {
	return append(append([]byte{}, prefix...), id...)
}

func historyKey(id uint64) []byte {
	k := append([]byte{}, historyPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

func scan(txn *badger.Txn, prefix []byte, f func(k, v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		if err := item.Value(func(v []byte) error { return f(k, v) }); err != nil {
			return err
		}
	}
	return nil
}

func setJSON(txn *badger.Txn, k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

func (g *Gateway) ListNodeSources(ctx context.Context) ([]db.NodeSourceData, error) {
	var out []db.NodeSourceData
	err := g.db.View(func(txn *badger.Txn) error {
		return scan(txn, sourcePrefix, func(_, v []byte) error {
			var d db.NodeSourceData
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

func (g *Gateway) ListNodes(ctx context.Context) ([]db.NodeData, error) {
	var out []db.NodeData
	err := g.db.View(func(txn *badger.Txn) error {
		return scan(txn, nodePrefix, func(_, v []byte) error {
			var d db.NodeData
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

func (g *Gateway) UpsertNodeSource(ctx context.Context, d db.NodeSourceData) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key(sourcePrefix, d.Name), d)
	})
}

func (g *Gateway) DeleteNodeSource(ctx context.Context, name string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		err := scan(txn, nodePrefix, func(k, v []byte) error {
			var d db.NodeData
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.NodeSourceName == name {
				return errors.Errorf("node source %s still has node %s", name, d.URL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return txn.Delete(key(sourcePrefix, name))
	})
}

func (g *Gateway) UpsertNodes(ctx context.Context, nodes ...db.NodeData) error {
	return g.db.Update(func(txn *badger.Txn) error {
		known := map[string]bool{}
		for _, n := range nodes {
			if !known[n.NodeSourceName] {
				if _, err := txn.Get(key(sourcePrefix, n.NodeSourceName)); err == badger.ErrKeyNotFound {
					return errors.Wrapf(rmerrors.ErrUnknownNodeSource, "node %s references %q", n.URL, n.NodeSourceName)
				} else if err != nil {
					return err
				}
				known[n.NodeSourceName] = true
			}
			if err := setJSON(txn, key(nodePrefix, n.URL), n); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) DeleteNodes(ctx context.Context, urls ...string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		for _, u := range urls {
			if err := txn.Delete(key(nodePrefix, u)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) AppendNodeHistory(ctx context.Context, h node.History) (int64, error) {
	id, err := g.seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at 0; ids start at 1 like the SQL store.
	id++
	rec := historyRecord{
		ID: int64(id), Host: h.Host, NodeSourceName: h.NodeSourceName, NodeURL: h.NodeURL,
		Provider: h.Provider, State: h.State.String(), Start: h.Start, End: h.End,
	}
	err = g.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, historyKey(id), rec)
	})
	return rec.ID, err
}

func (g *Gateway) CloseNodeHistory(ctx context.Context, url string, end time.Time) error {
	return g.db.Update(func(txn *badger.Txn) error {
		var open []historyRecord
		err := scan(txn, historyPrefix, func(_, v []byte) error {
			var rec historyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.NodeURL == url && rec.End.IsZero() {
				open = append(open, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, rec := range open {
			rec.End = end
			if err := setJSON(txn, historyKey(uint64(rec.ID)), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) ListNodeHistory(ctx context.Context, url string) ([]node.History, error) {
	var out []node.History
	err := g.db.View(func(txn *badger.Txn) error {
		return scan(txn, historyPrefix, func(_, v []byte) error {
			var rec historyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if url != "" && rec.NodeURL != url {
				return nil
			}
			state, err := node.ParseState(rec.State)
			if err != nil {
				return err
			}
			out = append(out, node.History{
				ID: rec.ID, Host: rec.Host, NodeSourceName: rec.NodeSourceName, NodeURL: rec.NodeURL,
				Provider: rec.Provider, State: state, Start: rec.Start, End: rec.End,
			})
			return nil
		})
	})
	return out, err
}
