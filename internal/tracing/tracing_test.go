package tracing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	got, span := Nop().StartSpan(ctx, "solve", nil)
	assert.Equal(t, ctx, got)
	span.End(nil, errors.New("ignored"))
	Nop().LogEvent(ctx, "x", nil)
	assert.NotNil(t, OrNop(nil))
}

func TestJSONL_SpansNestAndCarryIDs(t *testing.T) {
	var buf bytes.Buffer
	tr := NewJSONLWriter(&buf)
	ctx := context.Background()

	ctx, outer := tr.StartSpan(ctx, "solve", Fields{"start_type": "A"})
	inner, span := tr.StartSpan(ctx, "execute", nil)
	tr.LogEvent(inner, "attempt_failed", Fields{"attempt": 0, "error": "boom"})
	span.End(nil, errors.New("boom"))
	span.End(nil, nil) // second End is ignored
	outer.End("done", nil)

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 6)

	events := make([]string, len(recs))
	for i, r := range recs {
		events[i] = r["event"].(string)
		assert.NotEmpty(t, r["timestamp"])
	}
	assert.Equal(t, []string{"trace_start", "span_start", "span_start", "attempt_failed", "span_end", "span_end"}, events)

	traceID := recs[0]["trace_id"]
	outerStart, innerStart := recs[1], recs[2]
	assert.Equal(t, traceID, outerStart["trace_id"])
	assert.Nil(t, outerStart["parent_span_id"])
	assert.Equal(t, outerStart["span_id"], innerStart["parent_span_id"])
	assert.Equal(t, innerStart["span_id"], recs[3]["span_id"])
	assert.Equal(t, "boom", recs[4]["error"])
	assert.Equal(t, "done", recs[5]["outputs"])
	assert.Contains(t, recs[5], "duration_ms")
}

func TestJSONL_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "traces.jsonl")
	tr, err := NewJSONL(path)
	require.NoError(t, err)

	_, span := tr.StartSpan(context.Background(), "verify", nil)
	span.End(nil, nil)
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, data), 3)
}

func TestJSONL_UnencodablePayload(t *testing.T) {
	var buf bytes.Buffer
	tr := NewJSONLWriter(&buf)
	tr.LogEvent(context.Background(), "odd", Fields{"fn": func() {}})

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 1)
	assert.Equal(t, "odd", recs[0]["event"])
	assert.Contains(t, recs[0], "payload")
}

func TestZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr := NewZap(zap.New(core))

	_, span := tr.StartSpan(context.Background(), "generate", Fields{"attempt": 1})
	span.End(nil, errors.New("rate limited"))
	tr.LogEvent(context.Background(), "task_exhausted", Fields{"attempts": 3})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "span failed", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "task_exhausted", entries[2].Message)
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	tr := Multi(a, nil, b)

	ctx, outer := tr.StartSpan(context.Background(), "solve", nil)
	_, inner := tr.StartSpan(ctx, "execute", nil)
	tr.LogEvent(ctx, "attempt_failed", nil)
	inner.End(nil, nil)
	outer.End(nil, nil)

	for _, r := range []*Recorder{a, b} {
		assert.Equal(t, 1, r.Count("span_end", "solve"))
		assert.Equal(t, 1, r.Count("span_end", "execute"))
		require.Len(t, r.Events("attempt_failed"), 1)
		assert.Equal(t, "solve", r.Events("attempt_failed")[0].Parent)
		assert.Equal(t, "solve", r.Ends("execute")[0].Parent)
	}

	assert.Same(t, a, Multi(a))
	_, isNop := Multi().(nopTracer)
	assert.True(t, isNop)
}
