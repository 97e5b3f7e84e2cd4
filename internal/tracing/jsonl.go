package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JSONL appends one JSON object per line for every span start, span end and
// event. Records carry trace, span and parent span ids.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// NewJSONL opens path for appending, creating parent directories.
func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	t := NewJSONLWriter(f)
	t.closer = f
	return t, nil
}

// NewJSONLWriter writes records to w.
func NewJSONLWriter(w io.Writer) *JSONL {
	return &JSONL{w: w, now: time.Now}
}

// Close closes the underlying file, if any.
func (t *JSONL) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// StartTrace begins a new trace on ctx and records trace_start.
func (t *JSONL) StartTrace(ctx context.Context) context.Context {
	ref := spanRef{traceID: uuid.NewString()}
	t.write("trace_start", map[string]any{"trace_id": ref.traceID})
	return withSpan(ctx, t, ref)
}

func (t *JSONL) StartSpan(ctx context.Context, name string, inputs Fields) (context.Context, Span) {
	parent, ok := spanFrom(ctx, t)
	if !ok {
		ctx = t.StartTrace(ctx)
		parent, _ = spanFrom(ctx, t)
	}
	ref := spanRef{traceID: parent.traceID, spanID: uuid.NewString()}

	var parentID any
	if parent.spanID != "" {
		parentID = parent.spanID
	}
	t.write("span_start", map[string]any{
		"trace_id":       ref.traceID,
		"span_id":        ref.spanID,
		"parent_span_id": parentID,
		"name":           name,
		"inputs":         inputs,
	})
	return withSpan(ctx, t, ref), &jsonlSpan{t: t, ref: ref, name: name, start: t.now()}
}

func (t *JSONL) LogEvent(ctx context.Context, name string, data Fields) {
	rec := map[string]any{}
	for k, v := range data {
		rec[k] = v
	}
	if ref, ok := spanFrom(ctx, t); ok {
		rec["trace_id"] = ref.traceID
		if ref.spanID != "" {
			rec["span_id"] = ref.spanID
		}
	}
	t.write(name, rec)
}

func (t *JSONL) write(event string, data map[string]any) {
	rec := make(map[string]any, len(data)+2)
	for k, v := range data {
		rec[k] = v
	}
	rec["timestamp"] = t.now().UTC().Format(time.RFC3339Nano)
	rec["event"] = event

	line, err := json.Marshal(rec)
	if err != nil {
		// Unencodable payloads are recorded by their Go rendering.
		line, _ = json.Marshal(map[string]any{
			"timestamp": rec["timestamp"],
			"event":     event,
			"payload":   fmt.Sprintf("%v", data),
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(append(line, '\n'))
}

type jsonlSpan struct {
	t     *JSONL
	ref   spanRef
	name  string
	start time.Time
	once  sync.Once
}

func (s *jsonlSpan) End(outputs any, err error) {
	s.once.Do(func() {
		s.t.write("span_end", map[string]any{
			"trace_id":    s.ref.traceID,
			"span_id":     s.ref.spanID,
			"name":        s.name,
			"duration_ms": float64(s.t.now().Sub(s.start).Microseconds()) / 1000,
			"outputs":     outputs,
			"error":       errString(err),
		})
	})
}
