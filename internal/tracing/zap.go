package tracing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Zap writes span ends and events to a structured logger.
type Zap struct {
	logger *zap.Logger
}

// NewZap returns a tracer logging through logger.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

func (z *Zap) StartSpan(ctx context.Context, name string, inputs Fields) (context.Context, Span) {
	z.logger.Debug("span start", zap.String("span", name), zap.Any("inputs", inputs))
	return ctx, &zapSpan{z: z, name: name, start: time.Now()}
}

func (z *Zap) LogEvent(_ context.Context, name string, data Fields) {
	z.logger.Info(name, zap.Any("data", data))
}

type zapSpan struct {
	z     *Zap
	name  string
	start time.Time
}

func (s *zapSpan) End(outputs any, err error) {
	fields := []zap.Field{
		zap.String("span", s.name),
		zap.Duration("duration", time.Since(s.start)),
	}
	if err != nil {
		s.z.logger.Warn("span failed", append(fields, zap.Error(err))...)
		return
	}
	s.z.logger.Debug("span end", append(fields, zap.Any("outputs", outputs))...)
}
