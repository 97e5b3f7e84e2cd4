// Package store provides the SQLite persistence backend for the capability
// graph and picks a backend from the ontology path.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ontogen/internal/logging"
	"ontogen/internal/ontology"
	"ontogen/internal/types"
)

// SnapshotStore keeps graph snapshots in SQLite. Every save replaces the
// previous contents in a single transaction.
type SnapshotStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewSnapshotStore opens (or creates) the database at path.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSnapshotStore")
	defer timer.Stop()

	logging.Store("Opening snapshot store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, types.Wrap(types.KindPersistence, err, "failed to create directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, types.Wrap(types.KindPersistence, err, "failed to open database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &SnapshotStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) initialize() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS ontology_types (
		name TEXT PRIMARY KEY,
		schema_json TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ontology_tools (
		input_type TEXT NOT NULL,
		output_type TEXT NOT NULL,
		name TEXT NOT NULL,
		constraints_json TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (input_type, output_type)
	);
	CREATE TABLE IF NOT EXISTS ontology_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(ddl); err != nil {
		return types.Wrap(types.KindPersistence, err, "failed to create ontology tables")
	}
	return nil
}

// Path returns the database path.
func (s *SnapshotStore) Path() string { return s.dbPath }

// Close releases the database handle.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot replaces the stored graph with snap.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap ontology.Snapshot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Wrap(types.KindPersistence, err, "begin snapshot transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"ontology_tools", "ontology_types", "ontology_meta"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return types.Wrap(types.KindPersistence, err, "clear "+table)
		}
	}

	for _, n := range snap.Nodes {
		doc, mErr := json.Marshal(n.Schema)
		if mErr != nil {
			err = types.Wrap(types.KindPersistence, mErr, fmt.Sprintf("encode schema of %s", n.Name))
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ontology_types (name, schema_json) VALUES (?, ?)`,
			n.Name, string(doc)); err != nil {
			return types.Wrap(types.KindPersistence, err, fmt.Sprintf("insert type %s", n.Name))
		}
	}

	for _, e := range snap.Edges {
		constraints, mErr := json.Marshal(e.Tool.Constraints)
		if mErr != nil {
			err = types.Wrap(types.KindPersistence, mErr, fmt.Sprintf("encode constraints of %s", e.Tool.Name))
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO ontology_tools (input_type, output_type, name, constraints_json, code) VALUES (?, ?, ?, ?, ?)`,
			e.Source, e.Target, e.Tool.Name, string(constraints), e.Tool.Code); err != nil {
			return types.Wrap(types.KindPersistence, err, fmt.Sprintf("insert tool %s", e.Tool.Name))
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ontology_meta (key, value) VALUES ('saved_at', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return types.Wrap(types.KindPersistence, err, "write snapshot metadata")
	}

	if err = tx.Commit(); err != nil {
		return types.Wrap(types.KindPersistence, err, "commit snapshot")
	}
	logging.StoreDebug("Saved snapshot: %d types, %d tools", len(snap.Nodes), len(snap.Edges))
	return nil
}

// LoadSnapshot returns found=false when nothing has been saved yet.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (ontology.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ontology_meta WHERE key = 'saved_at'`).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return ontology.Snapshot{}, false, nil
	}
	if err != nil {
		return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "read snapshot metadata")
	}

	snap := ontology.Snapshot{Nodes: []ontology.DataType{}, Edges: []ontology.Edge{}}

	rows, err := s.db.QueryContext(ctx, `SELECT name, schema_json FROM ontology_types ORDER BY name`)
	if err != nil {
		return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "query types")
	}
	for rows.Next() {
		var dt ontology.DataType
		var doc string
		if err := rows.Scan(&dt.Name, &doc); err != nil {
			rows.Close()
			return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "scan type")
		}
		if err := json.Unmarshal([]byte(doc), &dt.Schema); err != nil {
			rows.Close()
			return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, fmt.Sprintf("decode schema of %s", dt.Name))
		}
		snap.Nodes = append(snap.Nodes, dt)
	}
	if err := rows.Close(); err != nil {
		return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "read types")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT input_type, output_type, name, constraints_json, code FROM ontology_tools ORDER BY input_type, output_type`)
	if err != nil {
		return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "query tools")
	}
	defer rows.Close()
	for rows.Next() {
		var t ontology.Tool
		var constraints string
		if err := rows.Scan(&t.InputType, &t.OutputType, &t.Name, &constraints, &t.Code); err != nil {
			return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "scan tool")
		}
		if err := json.Unmarshal([]byte(constraints), &t.Constraints); err != nil {
			return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, fmt.Sprintf("decode constraints of %s", t.Name))
		}
		snap.Edges = append(snap.Edges, ontology.Edge{Source: t.InputType, Target: t.OutputType, Tool: t})
	}
	if err := rows.Err(); err != nil {
		return ontology.Snapshot{}, false, types.Wrap(types.KindPersistence, err, "read tools")
	}

	logging.StoreDebug("Loaded snapshot saved at %s", savedAt)
	return snap, true, nil
}
