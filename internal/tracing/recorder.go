package tracing

import (
	"context"
	"sync"
)

// Record is one entry captured by a Recorder.
type Record struct {
	Kind   string // span_start, span_end or event
	Name   string
	Parent string // enclosing span name, empty at the root
	Fields Fields
	Output any
	Err    error
}

// Recorder keeps every span and event in memory. It is meant for tests.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) StartSpan(ctx context.Context, name string, inputs Fields) (context.Context, Span) {
	parent, _ := spanFrom(ctx, r)
	r.add(Record{Kind: "span_start", Name: name, Parent: parent.spanID, Fields: inputs})
	return withSpan(ctx, r, spanRef{spanID: name}), &recordedSpan{r: r, name: name, parent: parent.spanID}
}

func (r *Recorder) LogEvent(ctx context.Context, name string, data Fields) {
	parent, _ := spanFrom(ctx, r)
	r.add(Record{Kind: "event", Name: name, Parent: parent.spanID, Fields: data})
}

func (r *Recorder) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns how many records of kind have the given name.
func (r *Recorder) Count(kind, name string) int {
	n := 0
	for _, rec := range r.Records() {
		if rec.Kind == kind && rec.Name == name {
			n++
		}
	}
	return n
}

// Events returns the recorded events with the given name.
func (r *Recorder) Events(name string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == "event" && rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Ends returns the recorded span ends with the given name.
func (r *Recorder) Ends(name string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == "span_end" && rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

type recordedSpan struct {
	r      *Recorder
	name   string
	parent string
}

func (s *recordedSpan) End(outputs any, err error) {
	s.r.add(Record{Kind: "span_end", Name: s.name, Parent: s.parent, Output: outputs, Err: err})
}
