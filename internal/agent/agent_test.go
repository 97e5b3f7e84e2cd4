package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ontogen/internal/ontology"
	"ontogen/internal/sandbox"
	"ontogen/internal/schema"
	"ontogen/internal/synthesis"
	"ontogen/internal/tracing"
	"ontogen/internal/types"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts at init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeSandbox runs "code" by handing it to ExecuteFunc.
type fakeSandbox struct {
	mode        sandbox.Mode
	ExecuteFunc func(code string, input any) (any, error)
	VerifyFunc  func(value any, script string) error

	mu       sync.Mutex
	executed []string
}

func (f *fakeSandbox) Mode() sandbox.Mode {
	if f.mode == 0 {
		return sandbox.ModeInProcess
	}
	return f.mode
}

func (f *fakeSandbox) Language() string { return "python" }

func (f *fakeSandbox) Execute(ctx context.Context, code, entryPoint string, input any) (any, error) {
	f.mu.Lock()
	f.executed = append(f.executed, code)
	f.mu.Unlock()
	if entryPoint != "transform" {
		return nil, types.Errorf(types.KindEntryPointMissing, "no %s", entryPoint)
	}
	return f.ExecuteFunc(code, input)
}

// verifyingSandbox adds the sandbox.Verifier capability.
type verifyingSandbox struct {
	*fakeSandbox
}

func (v verifyingSandbox) Verify(ctx context.Context, value any, script string) error {
	return v.VerifyFunc(value, script)
}

func fenced(code string) string {
	return "Sure:\n```python\n" + code + "\n```\n"
}

// scripted returns a generator answering with responses in order and
// repeating the last one.
func scripted(responses ...string) *synthesis.MockGenerator {
	var mu sync.Mutex
	n := 0
	return &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		i := n
		if i >= len(responses) {
			i = len(responses) - 1
		}
		n++
		return fenced(responses[i]), nil
	}}
}

func tripleGraph(t *testing.T) *ontology.Graph {
	t.Helper()
	g := ontology.NewGraph()
	g.AddType("TextContent", schema.Schema{"type": "string"})
	g.AddType("KGTriples", schema.Schema{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject":   map[string]any{"type": "string"},
				"predicate": map[string]any{"type": "string"},
				"object":    map[string]any{"type": "string"},
			},
		},
	})
	return g
}

var oneTriple = []any{map[string]any{"subject": "ada", "predicate": "hasRole", "object": "engineer"}}

func TestSolve_InvalidThenValid(t *testing.T) {
	gen := scripted("raise ValueError('boom')", "return triples")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) {
		if strings.HasPrefix(code, "raise") {
			return nil, types.Errorf(types.KindExecution, "ValueError: boom")
		}
		return oneTriple, nil
	}}

	a := New(tripleGraph(t), gen, box)
	res, err := a.Solve(context.Background(), NewTask("TextContent", "KGTriples", "Ada is an engineer."))
	require.NoError(t, err)

	assert.Equal(t, oneTriple, res.Value)
	assert.Equal(t, "return triples", res.Code)
	assert.Equal(t, 2, res.Attempts)

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0].Prompt, "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, calls[1].Prompt, "raise ValueError('boom')")
	assert.Contains(t, calls[1].Prompt, "ValueError: boom")
	assert.Equal(t, synthesis.DefaultSystemPrompt, calls[1].SystemPrompt)
}

func TestSolve_ExhaustsRetries(t *testing.T) {
	gen := scripted("v1", "v2", "v3")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) {
		return nil, types.Errorf(types.KindExecution, "failure in %s", code)
	}}

	task := NewTask("TextContent", "KGTriples", "x")
	task.MaxRetries = 2
	_, err := New(tripleGraph(t), gen, box).Solve(context.Background(), task)

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSynthesisExhausted))
	assert.True(t, errors.Is(err, types.ErrExecution), "wraps the last attempt's error")
	assert.Contains(t, err.Error(), "failure in v3")
	assert.Len(t, gen.Calls(), 3)
	assert.Equal(t, []string{"v1", "v2", "v3"}, box.executed)
}

func TestSolve_NegativeRetriesMeanOneAttempt(t *testing.T) {
	gen := scripted("v1")
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) {
		return nil, types.Errorf(types.KindExecution, "nope")
	}}

	_, err := New(tripleGraph(t), gen, box).Solve(context.Background(),
		Task{StartType: "TextContent", EndType: "KGTriples", MaxRetries: -5})
	assert.True(t, errors.Is(err, types.ErrSynthesisExhausted))
	assert.Len(t, gen.Calls(), 1)
}

func TestSolve_RejectedWhenPathExists(t *testing.T) {
	g := tripleGraph(t)
	require.NoError(t, g.AddTool(ontology.Tool{Name: "extract", InputType: "TextContent", OutputType: "KGTriples"}))
	gen := scripted("unused")
	rec := tracing.NewRecorder()

	_, err := New(g, gen, &fakeSandbox{}, WithTracer(rec)).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRejected))
	assert.False(t, errors.Is(err, types.ErrSynthesisExhausted))
	assert.Empty(t, gen.Calls())
	assert.Len(t, rec.Events("task_rejected"), 1)
}

func TestSolve_UnregisteredTypeFailsWithoutRetry(t *testing.T) {
	gen := scripted("unused")
	_, err := New(tripleGraph(t), gen, &fakeSandbox{}).Solve(context.Background(), NewTask("HTMLPage", "KGTriples", "<p/>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrGraphLookup))
	assert.Contains(t, err.Error(), "HTMLPage")
	assert.Empty(t, gen.Calls())
}

func TestSolve_GenerationErrorsAreRetried(t *testing.T) {
	var n int
	gen := &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		n++
		if n == 1 {
			return "", errors.New("connection reset")
		}
		return fenced("ok"), nil
	}}
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) { return oneTriple, nil }}

	res, err := New(tripleGraph(t), gen, box).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestSolve_GenerationErrorIsFedBackWithLastCode(t *testing.T) {
	var n int
	gen := &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		n++
		switch n {
		case 1:
			return fenced("code_v0"), nil
		case 2:
			return "", errors.New("upstream timed out after 30s")
		}
		return fenced("code_v2"), nil
	}}
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) {
		if code == "code_v0" {
			return nil, types.Errorf(types.KindExecution, "NameError: undefined triples")
		}
		return oneTriple, nil
	}}

	res, err := New(tripleGraph(t), gen, box).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	calls := gen.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1].Prompt, "NameError: undefined triples")
	assert.Contains(t, calls[2].Prompt, "code_v0")
	assert.Contains(t, calls[2].Prompt, "upstream timed out after 30s")
	assert.NotContains(t, calls[2].Prompt, "NameError: undefined triples")
}

func TestSolve_FirstGenerationErrorIsFedBack(t *testing.T) {
	var n int
	gen := &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		n++
		if n == 1 {
			return "", errors.New("rate limited")
		}
		return fenced("ok"), nil
	}}
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) { return oneTriple, nil }}

	_, err := New(tripleGraph(t), gen, box).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, calls[1].Prompt, "rate limited")
	assert.NotContains(t, calls[1].Prompt, "CODE:")
}

func TestSolve_NonRetryableErrorSurfacesImmediately(t *testing.T) {
	gen := &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		return "", types.Errorf(types.KindUnknownProvider, "provider went away")
	}}
	_, err := New(tripleGraph(t), gen, &fakeSandbox{}).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownProvider))
	assert.False(t, errors.Is(err, types.ErrSynthesisExhausted))
	assert.Len(t, gen.Calls(), 1)
}

func TestSolve_PredicateFailureIsFedBack(t *testing.T) {
	gen := scripted("v1", "v2")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) { return code, nil }}

	task := NewTask("TextContent", "KGTriples", "x")
	task.Verify = func(ctx context.Context, v any) error {
		if v == "v1" {
			return fmt.Errorf("expected v2, got %v", v)
		}
		return nil
	}

	res, err := New(tripleGraph(t), gen, box).Solve(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Value)
	assert.Contains(t, gen.Calls()[1].Prompt, "expected v2, got v1")
}

func TestSolve_PredicatePanicIsRecovered(t *testing.T) {
	gen := scripted("v1")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) { return nil, nil }}

	task := NewTask("TextContent", "KGTriples", "x")
	task.MaxRetries = 0
	task.Verify = func(ctx context.Context, v any) error {
		return v.(error) // nil interface conversion panics
	}

	_, err := New(tripleGraph(t), gen, box).Solve(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrVerification))
	assert.Contains(t, err.Error(), "predicate panicked")
}

func TestSolve_IsolatedSandboxRunsValidationScript(t *testing.T) {
	gen := scripted("v1", "v2")
	inner := &fakeSandbox{
		mode:        sandbox.ModeIsolated,
		ExecuteFunc: func(code string, input any) (any, error) { return code, nil },
	}
	var scripts []string
	inner.VerifyFunc = func(value any, script string) error {
		scripts = append(scripts, script)
		if value == "v1" {
			return types.Errorf(types.KindVerification, "Output must be a list")
		}
		return nil
	}

	res, err := New(tripleGraph(t), gen, verifyingSandbox{inner}).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, scripts, 2)
	assert.Contains(t, scripts[0], "result.json")
	assert.Contains(t, gen.Calls()[1].Prompt, "Output must be a list")
}

func TestSolve_InProcessSkipsVerificationByDefault(t *testing.T) {
	gen := scripted("v1")
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) { return "not triples", nil }}

	res, err := New(tripleGraph(t), gen, box).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)
	assert.Equal(t, "not triples", res.Value)
}

func TestSolve_HostValidation(t *testing.T) {
	gen := scripted("v1", "v2")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) {
		if code == "v1" {
			return []any{}, nil
		}
		return oneTriple, nil
	}}

	res, err := New(tripleGraph(t), gen, box, WithHostValidation(true)).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, gen.Calls()[1].Prompt, "schema mismatch")
}

func TestSolve_ToolLearning(t *testing.T) {
	g := tripleGraph(t)
	gen := scripted("return triples")
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) { return oneTriple, nil }}
	rec := tracing.NewRecorder()
	a := New(g, gen, box, WithToolLearning(true), WithTracer(rec))

	_, err := a.Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)

	tool, ok := g.Tool("TextContent", "KGTriples")
	require.True(t, ok)
	assert.Equal(t, "TextContent_to_KGTriples", tool.Name)
	assert.Equal(t, "return triples", tool.Code)
	assert.Contains(t, tool.Constraints, verifiedByNone)
	assert.Len(t, rec.Events("tool_learned"), 1)

	_, err = a.Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	assert.True(t, errors.Is(err, types.ErrRejected))
}

func TestSolve_Spans(t *testing.T) {
	gen := scripted("bad", "good")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) {
		if code == "bad" {
			return nil, types.Errorf(types.KindExecution, "boom")
		}
		return oneTriple, nil
	}}
	rec := tracing.NewRecorder()

	_, err := New(tripleGraph(t), gen, box, WithTracer(rec)).Solve(context.Background(), NewTask("TextContent", "KGTriples", "x"))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Count("span_start", "solve"))
	assert.Equal(t, 1, rec.Count("span_start", "detect_gap"))
	assert.Equal(t, 2, rec.Count("span_start", "synthesis_attempt"))
	assert.Equal(t, 2, rec.Count("span_start", "generate"))
	assert.Equal(t, 2, rec.Count("span_start", "execute"))
	assert.Equal(t, 1, rec.Count("span_start", "verify"))

	for _, r := range rec.Records() {
		switch r.Name {
		case "generate", "execute", "verify":
			assert.Equal(t, "synthesis_attempt", r.Parent, r.Name)
		case "synthesis_attempt", "detect_gap":
			assert.Equal(t, "solve", r.Parent, r.Name)
		}
	}

	failed := rec.Events("attempt_failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "solve", failed[0].Parent)
	assert.Equal(t, "execution", failed[0].Fields["kind"])

	ends := rec.Ends("synthesis_attempt")
	require.Len(t, ends, 2)
	assert.Error(t, ends[0].Err)
	assert.NoError(t, ends[1].Err)
}

func TestSolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := scripted("v1")
	box := &fakeSandbox{ExecuteFunc: func(string, any) (any, error) {
		cancel()
		return nil, types.Errorf(types.KindExecution, "killed")
	}}

	_, err := New(tripleGraph(t), gen, box).Solve(ctx, NewTask("TextContent", "KGTriples", "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, types.ErrSynthesisExhausted))
	assert.Len(t, gen.Calls(), 1)
}

func TestSolve_InProcessInterpreter(t *testing.T) {
	g := ontology.NewGraph()
	g.AddType("Text", schema.Schema{"type": "string"})
	g.AddType("Shout", schema.Schema{"type": "string"})

	gen := &synthesis.MockGenerator{GenerateFunc: func(ctx context.Context, prompt, sys string) (string, error) {
		return "```go\npackage main\n\nimport \"strings\"\n\nfunc transform(input interface{}) (interface{}, error) {\n\ts, _ := input.(string)\n\treturn strings.ToUpper(s) + \"!\", nil\n}\n```", nil
	}}
	box := sandbox.NewInProcess(sandbox.Options{})

	res, err := New(g, gen, box, WithHostValidation(true)).Solve(context.Background(), NewTask("Text", "Shout", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO!", res.Value)
	assert.Contains(t, gen.Calls()[0].Prompt, "Go function")
}

func TestSolveAll(t *testing.T) {
	g := tripleGraph(t)
	g.AddType("Summary", schema.Schema{"type": "string"})
	gen := scripted("ok")
	box := &fakeSandbox{ExecuteFunc: func(code string, input any) (any, error) { return input, nil }}
	a := New(g, gen, box)

	tasks := []Task{
		NewTask("TextContent", "Summary", "a"),
		NewTask("Nope", "Summary", "b"),
		NewTask("TextContent", "KGTriples", "c"),
	}
	outcomes, err := a.SolveAll(context.Background(), tasks, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "a", outcomes[0].Result.Value)
	assert.True(t, errors.Is(outcomes[1].Err, types.ErrGraphLookup))
	assert.Equal(t, "c", outcomes[2].Result.Value)
	assert.Equal(t, tasks[2], outcomes[2].Task)
}

func TestSolveAll_RefusesWhileLearning(t *testing.T) {
	a := New(tripleGraph(t), scripted("x"), &fakeSandbox{}, WithToolLearning(true))
	_, err := a.SolveAll(context.Background(), []Task{NewTask("TextContent", "KGTriples", "x")}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestJQPredicate(t *testing.T) {
	ctx := context.Background()
	p, err := JQPredicate(`length > 0 and all(.[]; has("subject"))`)
	require.NoError(t, err)

	assert.NoError(t, p(ctx, oneTriple))
	assert.Error(t, p(ctx, []any{}))
	assert.Error(t, p(ctx, []any{map[string]any{"object": "x"}}))

	typed, err := JQPredicate(`.count == 3`)
	require.NoError(t, err)
	assert.NoError(t, typed(ctx, struct {
		Count int `json:"count"`
	}{3}))

	failing, err := JQPredicate(`.[0] | error("bad triple")`)
	require.NoError(t, err)
	assert.ErrorContains(t, failing(ctx, oneTriple), "bad triple")

	_, err = JQPredicate(`.[`)
	assert.True(t, errors.Is(err, types.ErrConfig))
}
