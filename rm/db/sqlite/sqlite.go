// Package sqlite is a db.Gateway on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/node"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - node_source, node and node_history tables
const currentSchemaVersion = 1

type Gateway struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode so startup reads do not block the single writer
//   - FULL synchronous mode: a returned write survives a power loss
//   - foreign key enforcement, so a node cannot outlive its node source
func Open(path string) (*Gateway, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	if err := applySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Gateway{db: conn}, nil
}

func applySchema(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "get user_version")
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "set user_version")
	}
	return nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) ListNodeSources(ctx context.Context) ([]db.NodeSourceData, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT name, infrastructure_type, infrastructure_params, policy_type, policy_params,
		       provider, nodes_recoverable, status
		FROM node_source ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.NodeSourceData
	for rows.Next() {
		var d db.NodeSourceData
		var infraParams, policyParams string
		if err := rows.Scan(&d.Name, &d.InfrastructureType, &infraParams, &d.PolicyType, &policyParams,
			&d.Provider, &d.NodesRecoverable, &d.Status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(infraParams), &d.InfrastructureParams); err != nil {
			return nil, errors.Wrapf(err, "infrastructure params of %s", d.Name)
		}
		if err := json.Unmarshal([]byte(policyParams), &d.PolicyParams); err != nil {
			return nil, errors.Wrapf(err, "policy params of %s", d.Name)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *Gateway) ListNodes(ctx context.Context) ([]db.NodeData, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT url, host_name, node_source_name, provider, owner, jvm_name, state, previous_state,
		       state_change_time, locked, locked_by, lock_time
		FROM node ORDER BY url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.NodeData
	for rows.Next() {
		var d db.NodeData
		var changed, lockTime int64
		if err := rows.Scan(&d.URL, &d.HostName, &d.NodeSourceName, &d.Provider, &d.Owner, &d.JVMName,
			&d.State, &d.PreviousState, &changed, &d.Locked, &d.LockedBy, &lockTime); err != nil {
			return nil, err
		}
		d.StateChangeTime = fromNanos(changed)
		d.LockTime = fromNanos(lockTime)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *Gateway) UpsertNodeSource(ctx context.Context, d db.NodeSourceData) error {
	if err := d.Validate(); err != nil {
		return err
	}
	infraParams, err := marshalParams(d.InfrastructureParams)
	if err != nil {
		return err
	}
	policyParams, err := marshalParams(d.PolicyParams)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO node_source (name, infrastructure_type, infrastructure_params, policy_type, policy_params,
		                         provider, nodes_recoverable, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			infrastructure_type = excluded.infrastructure_type,
			infrastructure_params = excluded.infrastructure_params,
			policy_type = excluded.policy_type,
			policy_params = excluded.policy_params,
			provider = excluded.provider,
			nodes_recoverable = excluded.nodes_recoverable,
			status = excluded.status`,
		d.Name, d.InfrastructureType, infraParams, d.PolicyType, policyParams,
		d.Provider, d.NodesRecoverable, d.Status)
	return err
}

func (g *Gateway) DeleteNodeSource(ctx context.Context, name string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM node_source WHERE name = ?`, name)
	return err
}

func (g *Gateway) UpsertNodes(ctx context.Context, nodes ...db.NodeData) error {
	return g.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO node (url, host_name, node_source_name, provider, owner, jvm_name, state, previous_state,
			                  state_change_time, locked, locked_by, lock_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
				host_name = excluded.host_name,
				node_source_name = excluded.node_source_name,
				provider = excluded.provider,
				owner = excluded.owner,
				jvm_name = excluded.jvm_name,
				state = excluded.state,
				previous_state = excluded.previous_state,
				state_change_time = excluded.state_change_time,
				locked = excluded.locked,
				locked_by = excluded.locked_by,
				lock_time = excluded.lock_time`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range nodes {
			if _, err := stmt.ExecContext(ctx, n.URL, n.HostName, n.NodeSourceName, n.Provider, n.Owner, n.JVMName,
				n.State, n.PreviousState, toNanos(n.StateChangeTime), n.Locked, n.LockedBy, toNanos(n.LockTime)); err != nil {
				return errors.Wrapf(err, "upsert node %s", n.URL)
			}
		}
		return nil
	})
}

func (g *Gateway) DeleteNodes(ctx context.Context, urls ...string) error {
	return g.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range urls {
			if _, err := tx.ExecContext(ctx, `DELETE FROM node WHERE url = ?`, u); err != nil {
				return errors.Wrapf(err, "delete node %s", u)
			}
		}
		return nil
	})
}

func (g *Gateway) AppendNodeHistory(ctx context.Context, h node.History) (int64, error) {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO node_history (host, node_source_name, node_url, provider, node_state, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Host, h.NodeSourceName, h.NodeURL, h.Provider, h.State.String(), toNanos(h.Start), toNanos(h.End))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (g *Gateway) CloseNodeHistory(ctx context.Context, url string, end time.Time) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE node_history SET end_time = ? WHERE node_url = ? AND end_time = 0`, toNanos(end), url)
	return err
}

func (g *Gateway) ListNodeHistory(ctx context.Context, url string) ([]node.History, error) {
	query := `SELECT id, host, node_source_name, node_url, provider, node_state, start_time, end_time
		FROM node_history WHERE (? = '' OR node_url = ?) ORDER BY id`
	rows, err := g.db.QueryContext(ctx, query, url, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []node.History
	for rows.Next() {
		var h node.History
		var state string
		var start, end int64
		if err := rows.Scan(&h.ID, &h.Host, &h.NodeSourceName, &h.NodeURL, &h.Provider, &state, &start, &end); err != nil {
			return nil, err
		}
		if h.State, err = node.ParseState(state); err != nil {
			return nil, err
		}
		h.Start, h.End = fromNanos(start), fromNanos(end)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (g *Gateway) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func marshalParams(params []string) (string, error) {
	if params == nil {
		params = []string{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", rmerrors.NewValidationError("params", "cannot encode %v: %v", params, err)
	}
	return string(b), nil
}

// Zero times are stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
