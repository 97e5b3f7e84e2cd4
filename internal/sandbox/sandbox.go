// Package sandbox runs generated code and returns what its entry point
// produced. Two variants exist: an in-process Go interpreter and an
// isolated Python process (host or container).
package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ontogen/internal/types"
)

// Mode is the closed set of sandbox variants.
type Mode int

const (
	ModeInProcess Mode = iota + 1
	ModeIsolated
)

func (m Mode) String() string {
	switch m {
	case ModeInProcess:
		return "inprocess"
	case ModeIsolated:
		return "isolated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a configured name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "inprocess", "in-process", "in_process":
		return ModeInProcess, nil
	case "isolated":
		return ModeIsolated, nil
	}
	return 0, types.Errorf(types.KindUnknownMode, "unknown sandbox mode %q", name)
}

// Sandbox executes a code payload's entry point against one input.
type Sandbox interface {
	Mode() Mode
	// Language names what Execute expects the payload to be written in.
	Language() string
	Execute(ctx context.Context, code, entryPoint string, input any) (any, error)
}

// Verifier runs a validation routine against a produced value. A non-nil
// error means the value failed validation.
type Verifier interface {
	Verify(ctx context.Context, value any, validationCode string) error
}

// Options configure a sandbox built through a Registry.
type Options struct {
	// Timeout bounds each run; zero means no limit.
	Timeout time.Duration
	// Runner executes isolated payloads. Defaults to a ProcessRunner.
	Runner Runner
	// AllowedPackages overrides the in-process import allow-list.
	AllowedPackages []string
	Logger          *zap.Logger
}

// Factory builds a sandbox from options.
type Factory func(opts Options) (Sandbox, error)

// Registry maps modes to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Mode]Factory
}

// NewRegistry returns a registry with both built-in modes registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Mode]Factory)}
	r.Register(ModeInProcess, func(opts Options) (Sandbox, error) {
		return NewInProcess(opts), nil
	})
	r.Register(ModeIsolated, func(opts Options) (Sandbox, error) {
		return NewIsolated(opts), nil
	})
	return r
}

// Register installs or replaces the factory for m.
func (r *Registry) Register(m Mode, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[m] = f
}

// Modes lists registered modes by name.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for m := range r.factories {
		names = append(names, m.String())
	}
	sort.Strings(names)
	return names
}

// New builds the sandbox registered under name.
func (r *Registry) New(name string, opts Options) (Sandbox, error) {
	m, err := ParseMode(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	f, ok := r.factories[m]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.KindUnknownMode, "sandbox mode %q is not registered", name)
	}
	return f(opts)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func loggerOr(l *zap.Logger, fallback func() *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return fallback()
}
