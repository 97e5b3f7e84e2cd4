package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ontogen/internal/ontology"
	"ontogen/internal/schema"
)

func sampleGraph(t *testing.T) *ontology.Graph {
	t.Helper()
	g := ontology.NewGraph()
	g.AddType("HTMLPage", schema.Schema{"type": "string", "format": "html"})
	g.AddType("TextContent", schema.Schema{"type": "string"})
	g.AddType("KGTriples", schema.Schema{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject": map[string]any{"type": "string"},
			},
		},
	})
	require.NoError(t, g.AddTool(ontology.Tool{
		Name:       "html_to_text",
		InputType:  "HTMLPage",
		OutputType: "TextContent",
	}))
	require.NoError(t, g.AddTool(ontology.Tool{
		Name:        "text_to_triples",
		InputType:   "TextContent",
		OutputType:  "KGTriples",
		Constraints: []string{"non-empty", "ascii"},
		Code:        "def transform(text):\n    return []\n",
	}))
	return g
}

func TestSnapshotStore_EmptyDatabase(t *testing.T) {
	s, err := NewSnapshotStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ontology.db")

	s, err := NewSnapshotStore(path)
	require.NoError(t, err)
	g := sampleGraph(t)
	require.NoError(t, g.Save(ctx, s))
	require.NoError(t, s.Close())

	// reopen to prove the data is on disk
	s, err = NewSnapshotStore(path)
	require.NoError(t, err)
	defer s.Close()

	loaded := ontology.NewGraph()
	found, err := loaded.Load(ctx, s)
	require.NoError(t, err)
	require.True(t, found)

	if diff := cmp.Diff(g.Snapshot(), loaded.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"HTMLPage", "TextContent", "KGTriples"}, loaded.FindPath("HTMLPage", "KGTriples"))
}

func TestSnapshotStore_SaveReplacesEverything(t *testing.T) {
	ctx := context.Background()
	s, err := NewSnapshotStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, sampleGraph(t).Save(ctx, s))

	small := ontology.NewGraph()
	small.AddType("Only", nil)
	require.NoError(t, small.Save(ctx, s))

	snap, found, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "Only", snap.Nodes[0].Name)
	assert.Nil(t, snap.Nodes[0].Schema)
	assert.Empty(t, snap.Edges)
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	st, closeFn, err := Open(filepath.Join(dir, "graph.sqlite"))
	require.NoError(t, err)
	_, isSQLite := st.(*SnapshotStore)
	assert.True(t, isSQLite)
	require.NoError(t, closeFn())

	st, closeFn, err = Open(filepath.Join(dir, "graph.json"))
	require.NoError(t, err)
	_, isFile := st.(*ontology.FileStore)
	assert.True(t, isFile)
	require.NoError(t, closeFn())

	assert.True(t, IsSQLitePath("x.DB"))
	assert.False(t, IsSQLitePath("x.yaml"))
}
