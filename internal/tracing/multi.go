package tracing

import "context"

// Multi fans every span and event out to all tracers. Nil entries are skipped.
func Multi(tracers ...Tracer) Tracer {
	var live []Tracer
	for _, t := range tracers {
		if t != nil {
			live = append(live, t)
		}
	}
	switch len(live) {
	case 0:
		return Nop()
	case 1:
		return live[0]
	}
	return multi(live)
}

type multi []Tracer

func (m multi) StartSpan(ctx context.Context, name string, inputs Fields) (context.Context, Span) {
	spans := make(multiSpan, 0, len(m))
	for _, t := range m {
		var s Span
		ctx, s = t.StartSpan(ctx, name, inputs)
		spans = append(spans, s)
	}
	return ctx, spans
}

func (m multi) LogEvent(ctx context.Context, name string, data Fields) {
	for _, t := range m {
		t.LogEvent(ctx, name, data)
	}
}

type multiSpan []Span

func (ms multiSpan) End(outputs any, err error) {
	for i := len(ms) - 1; i >= 0; i-- {
		ms[i].End(outputs, err)
	}
}
