// Package synthesis turns a transformation request into candidate source
// code. It owns the provider-neutral Generator contract, the built-in
// provider clients, the prompt builder and the code extractor.
package synthesis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ontogen/internal/logging"
	"ontogen/internal/types"
)

// Generator produces text for a prompt. Transport and auth failures are
// reported as types.KindGeneration.
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Provider names a generator backend.
type Provider string

const (
	ProviderOpenAI       Provider = "openai"
	ProviderOpenAICompat Provider = "openai-compatible"
	ProviderAnthropic    Provider = "anthropic"
	ProviderGemini       Provider = "gemini"
	ProviderOllama       Provider = "ollama"
)

// DefaultMaxTokens caps responses when Config.MaxTokens is unset.
const DefaultMaxTokens = 4096

// Config selects and configures a provider.
type Config struct {
	Provider  Provider
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	Logger    *zap.Logger
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

func (c Config) requireKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return types.Errorf(types.KindUnknownProvider, "provider %s requires an API key", c.Provider)
	}
	return nil
}

// Factory builds a generator from a config.
type Factory func(cfg Config) (Generator, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

// NewRegistry returns a registry with every built-in provider registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Provider]Factory)}
	r.Register(ProviderOpenAI, func(cfg Config) (Generator, error) { return NewOpenAI(cfg) })
	r.Register(ProviderOpenAICompat, func(cfg Config) (Generator, error) { return NewOpenAICompat(cfg) })
	r.Register(ProviderAnthropic, func(cfg Config) (Generator, error) { return NewAnthropic(cfg) })
	r.Register(ProviderGemini, func(cfg Config) (Generator, error) { return NewGemini(cfg) })
	r.Register(ProviderOllama, func(cfg Config) (Generator, error) { return NewOllama(cfg), nil })
	return r
}

// Register installs or replaces the factory for p.
func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for p := range r.factories {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// New builds the generator for cfg.Provider. Unknown names fail with
// types.KindUnknownProvider.
func (r *Registry) New(cfg Config) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.KindUnknownProvider, "unknown provider: %s", cfg.Provider)
	}
	g, err := f(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Get(logging.CategoryAPI).Zap()
	}
	return &instrumented{next: g, provider: cfg.Provider, model: cfg.Model, logger: logger}, nil
}

var defaultRegistry = NewRegistry()

// New builds a generator from the built-in providers.
func New(cfg Config) (Generator, error) {
	return defaultRegistry.New(cfg)
}

// instrumented logs every provider call.
type instrumented struct {
	next     Generator
	provider Provider
	model    string
	logger   *zap.Logger
}

func (g *instrumented) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt, systemPrompt)
	fields := []zap.Field{
		zap.String("provider", string(g.provider)),
		zap.String("model", g.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		g.logger.Warn("generation failed", append(fields, zap.Error(err))...)
		return "", err
	}
	g.logger.Debug("generation complete", append(fields, zap.Int("response_len", len(out)))...)
	return out, nil
}

// withDeadline applies the client timeout when the caller set none.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func emptyResponse(p Provider) error {
	return types.Errorf(types.KindGeneration, "%s returned an empty response", p)
}

// MockGenerator is a Generator driven by a function, for tests and dry runs.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Call records one Generate invocation.
type Call struct {
	Prompt       string
	SystemPrompt string
}

func (m *MockGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Prompt: prompt, SystemPrompt: systemPrompt})
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, systemPrompt)
	}
	return "", nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockGenerator) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
