package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ontogen/internal/agent"
	"ontogen/internal/logging"
	"ontogen/internal/ontology"
	"ontogen/internal/sandbox"
	"ontogen/internal/store"
	"ontogen/internal/synthesis"
	"ontogen/internal/tracing"
)

// graphHandle is a loaded ontology and the store it came from.
type graphHandle struct {
	graph *ontology.Graph
	store ontology.Store
	close func() error
}

// openGraph loads the configured ontology. A missing document yields an
// empty graph.
func openGraph(ctx context.Context) (*graphHandle, error) {
	st, closeFn, err := store.Open(cfg.Ontology.Path)
	if err != nil {
		return nil, err
	}
	g := ontology.NewGraph()
	found, err := g.Load(ctx, st)
	if err != nil {
		closeFn()
		return nil, err
	}
	if !found {
		logging.OntologyDebug("No ontology at %s, starting empty", cfg.Ontology.Path)
	}
	return &graphHandle{graph: g, store: st, close: closeFn}, nil
}

func (h *graphHandle) save(ctx context.Context) error {
	if err := h.graph.Save(ctx, h.store); err != nil {
		return err
	}
	logging.Ontology("Saved %d types and %d tools to %s", len(h.graph.Types()), len(h.graph.Tools()), cfg.Ontology.Path)
	return nil
}

// mutateGraph loads the ontology, applies fn and saves it back.
func mutateGraph(ctx context.Context, fn func(g *ontology.Graph) error) error {
	h, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer h.close()
	if err := fn(h.graph); err != nil {
		return err
	}
	return h.save(ctx)
}

func newGenerator() (synthesis.Generator, error) {
	return synthesis.New(synthesis.Config{
		Provider:  synthesis.Provider(cfg.LLM.Provider),
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.GetModel(),
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   cfg.GetLLMTimeout(),
		MaxTokens: cfg.LLM.MaxTokens,
	})
}

// newSandbox builds the sandbox for mode, or the configured mode when empty.
func newSandbox(mode string) (sandbox.Sandbox, error) {
	if mode == "" {
		mode = cfg.Sandbox.Mode
	}
	opts := sandbox.Options{Timeout: cfg.GetSandboxTimeout()}

	switch cfg.Sandbox.Runner {
	case "docker":
		r := sandbox.NewDockerRunner(cfg.Sandbox.Image)
		r.Memory = cfg.Sandbox.Memory
		r.PidsLimit = cfg.Sandbox.PidsLimit
		r.MaxOutputBytes = int64(cfg.Sandbox.MaxOutputBytes)
		opts.Runner = r
	default:
		r := sandbox.NewProcessRunner(cfg.Sandbox.Python)
		r.MaxOutputBytes = int64(cfg.Sandbox.MaxOutputBytes)
		opts.Runner = r
	}
	return sandbox.NewRegistry().New(mode, opts)
}

// newTracer builds the configured trace sinks. The close function is never nil.
func newTracer() (tracing.Tracer, func() error, error) {
	var sinks []tracing.Tracer
	closeFn := func() error { return nil }

	if cfg.Tracing.Enabled {
		j, err := tracing.NewJSONL(cfg.Tracing.Path)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, j)
		closeFn = j.Close
	}
	if cfg.Tracing.Log {
		sinks = append(sinks, tracing.NewZap(logging.Get(logging.CategoryTracing).Zap()))
	}
	return tracing.Multi(sinks...), closeFn, nil
}

// newAgent wires generator, sandbox and tracer around g.
func newAgent(g *ontology.Graph, mode string, learn bool) (*agent.Agent, func() error, error) {
	gen, err := newGenerator()
	if err != nil {
		return nil, nil, err
	}
	box, err := newSandbox(mode)
	if err != nil {
		return nil, nil, err
	}
	tracer, closeFn, err := newTracer()
	if err != nil {
		return nil, nil, err
	}
	a := agent.New(g, gen, box,
		agent.WithTracer(tracer),
		agent.WithLogger(logging.Get(logging.CategoryAgent).Zap()),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithHostValidation(cfg.Agent.HostValidation),
		agent.WithToolLearning(learn),
	)
	return a, closeFn, nil
}

// readInput returns the bytes of file ("-" for stdin) or, when file is
// empty, of inline.
func readInput(inline, file string, stdin io.Reader) ([]byte, error) {
	switch file {
	case "":
		if inline == "" {
			return nil, fmt.Errorf("no input given")
		}
		return []byte(inline), nil
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(file)
	}
}

// decodeValue parses data as JSON, or returns it as a string when raw.
func decodeValue(data []byte, raw bool) (any, error) {
	if raw {
		return string(data), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("input is not valid JSON (use --raw for plain text): %w", err)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
