package ontology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ontogen/internal/types"
)

// Snapshot is the persisted form of a Graph.
type Snapshot struct {
	Nodes []DataType `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Edge is one persisted tool together with its endpoints.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Tool   Tool   `json:"tool"`
}

// Store persists and retrieves graph snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot reports found=false when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
}

// Snapshot captures the current graph in deterministic order.
func (g *Graph) Snapshot() Snapshot {
	snap := Snapshot{Nodes: g.Types(), Edges: []Edge{}}
	for _, t := range g.Tools() {
		snap.Edges = append(snap.Edges, Edge{Source: t.InputType, Target: t.OutputType, Tool: t})
	}
	return snap
}

// Restore replaces the whole graph with snap. If any edge references a node
// missing from snap, the graph is left untouched.
func (g *Graph) Restore(snap Snapshot) error {
	next := NewGraph()
	for _, n := range snap.Nodes {
		next.AddType(n.Name, n.Schema)
	}
	for _, e := range snap.Edges {
		tool := e.Tool
		tool.InputType, tool.OutputType = e.Source, e.Target
		if err := next.AddTool(tool); err != nil {
			return fmt.Errorf("invalid snapshot: %w", err)
		}
	}
	*g = *next
	return nil
}

// Save writes the graph to store.
func (g *Graph) Save(ctx context.Context, store Store) error {
	return store.SaveSnapshot(ctx, g.Snapshot())
}

// Load replaces the graph with the stored snapshot. It returns false and
// leaves the graph unchanged when the store is empty.
func (g *Graph) Load(ctx context.Context, store Store) (bool, error) {
	snap, found, err := store.LoadSnapshot(ctx)
	if err != nil || !found {
		return false, err
	}
	if err := g.Restore(snap); err != nil {
		return false, types.Wrap(types.KindPersistence, err, "restore graph")
	}
	return true, nil
}

// FileStore keeps a snapshot as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// SaveSnapshot writes to a temp file in the same directory and renames it
// over the destination, so readers see either the old or the new document.
func (s *FileStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return types.Wrap(types.KindPersistence, err, "encode snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Wrap(types.KindPersistence, err, "create ontology directory")
	}
	tmp, err := os.CreateTemp(dir, ".ontology-*.json")
	if err != nil {
		return types.Wrap(types.KindPersistence, err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return types.Wrap(types.KindPersistence, err, "write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return types.Wrap(types.KindPersistence, err, "sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return types.Wrap(types.KindPersistence, err, "close snapshot")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return types.Wrap(types.KindPersistence, err, "replace snapshot")
	}
	return nil
}

// LoadSnapshot reads the document. A missing file is not an error.
func (s *FileStore) LoadSnapshot(ctx context.Context) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, types.Wrap(types.KindPersistence, err, "read snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, types.Wrap(types.KindPersistence, err, fmt.Sprintf("decode %s", s.path))
	}
	return snap, true, nil
}
