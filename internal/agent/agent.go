// Package agent drives the synthesis loop: it checks the capability graph
// for a gap, asks a generator for a transformation, runs it in a sandbox,
// verifies the result and retries with feedback until the budget runs out.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ontogen/internal/logging"
	"ontogen/internal/ontology"
	"ontogen/internal/sandbox"
	"ontogen/internal/schema"
	"ontogen/internal/synthesis"
	"ontogen/internal/tracing"
	"ontogen/internal/types"
)

// State is a step of the synthesis loop.
type State int

const (
	StateIdle State = iota
	StateGapCheck
	StateSynthesizing
	StateExecuting
	StateVerifying
	StateRetryOrExhausted
	StateSucceeded
	StateRejected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGapCheck:
		return "gap_check"
	case StateSynthesizing:
		return "synthesizing"
	case StateExecuting:
		return "executing"
	case StateVerifying:
		return "verifying"
	case StateRetryOrExhausted:
		return "retry_or_exhausted"
	case StateSucceeded:
		return "succeeded"
	case StateRejected:
		return "rejected"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Verification sources recorded on learned tools.
const (
	verifiedByPredicate = "verified_by:predicate"
	verifiedBySandbox   = "verified_by:schema_script"
	verifiedByHost      = "verified_by:host_schema"
	verifiedByNone      = "verified_by:none"
)

// Agent solves transformation tasks against one capability graph.
type Agent struct {
	graph     *ontology.Graph
	generator synthesis.Generator
	box       sandbox.Sandbox

	tracer         tracing.Tracer
	logger         *zap.Logger
	prompts        synthesis.PromptBuilder
	systemPrompt   string
	hostValidation bool
	learnTools     bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithTracer sets the trace sink. The default discards everything.
func WithTracer(t tracing.Tracer) Option {
	return func(a *Agent) { a.tracer = tracing.OrNop(t) }
}

// WithLogger sets the logger. The default is the agent category logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSystemPrompt replaces synthesis.DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(a *Agent) {
		if p != "" {
			a.systemPrompt = p
		}
	}
}

// WithHostValidation validates results against the end type's schema in
// this process when neither a predicate nor a sandbox verifier applies.
func WithHostValidation(enabled bool) Option {
	return func(a *Agent) { a.hostValidation = enabled }
}

// WithToolLearning registers each successful payload as the tool on the
// solved (start, end) edge.
func WithToolLearning(enabled bool) Option {
	return func(a *Agent) { a.learnTools = enabled }
}

// New builds an agent.
func New(graph *ontology.Graph, gen synthesis.Generator, box sandbox.Sandbox, opts ...Option) *Agent {
	a := &Agent{
		graph:        graph,
		generator:    gen,
		box:          box,
		tracer:       tracing.Nop(),
		logger:       logging.Get(logging.CategoryAgent).Zap(),
		prompts:      synthesis.NewPromptBuilder(box.Language()),
		systemPrompt: synthesis.DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// run is the mutable state of one Solve call.
type run struct {
	task     Task
	start    ontology.DataType
	end      ontology.DataType
	state    State
	current  attempt
	previous *attempt
	value    any
	verified string
	err      error

	// span of the attempt in flight
	actx  context.Context
	aspan tracing.Span
}

// Solve runs the synthesis loop for task. It fails with types.ErrRejected
// when the graph already connects the two types, types.ErrGraphLookup when
// either type is unregistered, and types.ErrSynthesisExhausted (wrapping
// the last attempt's error) once the retry budget is spent.
func (a *Agent) Solve(ctx context.Context, task Task) (res Result, err error) {
	ctx, span := a.tracer.StartSpan(ctx, "solve", tracing.Fields{
		"start_type":  task.StartType,
		"end_type":    task.EndType,
		"max_retries": task.retries(),
	})
	defer func() {
		if err != nil {
			span.End(nil, err)
			return
		}
		span.End(tracing.Fields{"attempts": res.Attempts}, nil)
	}()

	log := a.logger.With(zap.String("task", task.String()))
	r := &run{task: task, state: StateGapCheck}

	for {
		switch r.state {
		case StateGapCheck:
			a.gapCheck(ctx, r)

		case StateSynthesizing:
			if err := ctx.Err(); err != nil {
				r.err = &types.Error{
					Kind: types.KindSynthesisExhausted,
					Msg:  fmt.Sprintf("%s interrupted before attempt %d", r.task, r.current.index+1),
					Err:  err,
				}
				r.state = StateExhausted
				continue
			}
			r.actx, r.aspan = a.tracer.StartSpan(ctx, "synthesis_attempt", tracing.Fields{"attempt": r.current.index})
			a.synthesize(r.actx, r)

		case StateExecuting:
			a.execute(r.actx, r)

		case StateVerifying:
			a.verify(r.actx, r)

		case StateRetryOrExhausted:
			a.retryOrExhaust(ctx, r, log)

		case StateSucceeded:
			r.aspan.End(tracing.Fields{"verified_by": r.verified}, nil)
			log.Info("task solved", zap.Int("attempts", r.current.index+1))
			if a.learnTools {
				if err := a.learn(ctx, r); err != nil {
					return Result{}, err
				}
			}
			return Result{Value: r.value, Code: r.current.code, Attempts: r.current.index + 1}, nil

		case StateRejected:
			log.Info("task rejected", zap.Error(r.err))
			return Result{}, r.err

		case StateExhausted:
			log.Warn("synthesis exhausted", zap.Error(r.err))
			return Result{}, r.err

		default:
			return Result{}, fmt.Errorf("agent: unexpected state %s", r.state)
		}
	}
}

func (a *Agent) gapCheck(ctx context.Context, r *run) {
	_, span := a.tracer.StartSpan(ctx, "detect_gap", tracing.Fields{
		"start_type": r.task.StartType,
		"end_type":   r.task.EndType,
	})
	gap := a.graph.DetectGap(r.task.StartType, r.task.EndType)
	span.End(gap, nil)

	if !gap.Gap {
		path := a.graph.FindPath(r.task.StartType, r.task.EndType)
		r.err = types.Errorf(types.KindRejected,
			"a path from %s to %s already exists (%v); composing existing tools is not supported",
			r.task.StartType, r.task.EndType, path)
		a.tracer.LogEvent(ctx, "task_rejected", tracing.Fields{"path": path})
		r.state = StateRejected
		return
	}

	start, ok := a.graph.Type(r.task.StartType)
	if !ok {
		r.err = types.Errorf(types.KindGraphLookup, "unknown data type %q", r.task.StartType)
		r.state = StateRejected
		return
	}
	end, ok := a.graph.Type(r.task.EndType)
	if !ok {
		r.err = types.Errorf(types.KindGraphLookup, "unknown data type %q", r.task.EndType)
		r.state = StateRejected
		return
	}
	r.start, r.end = start, end
	r.current = attempt{index: 0}
	r.state = StateSynthesizing
}

func (a *Agent) synthesize(ctx context.Context, r *run) {
	req := synthesis.PromptRequest{
		StartType:   r.start.Name,
		StartSchema: r.start.Schema,
		EndType:     r.end.Name,
		EndSchema:   r.end.Schema,
	}
	if r.previous != nil && r.previous.err != nil {
		req.PreviousCode = r.previous.code
		req.PreviousError = r.previous.err.Error()
	}
	prompt := a.prompts.Build(req)

	_, span := a.tracer.StartSpan(ctx, "generate", tracing.Fields{
		"attempt":      r.current.index,
		"prompt_len":   len(prompt),
		"has_feedback": req.PreviousError != "",
	})
	resp, err := a.generator.Generate(ctx, prompt, a.systemPrompt)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			err = types.Wrap(types.KindGeneration, err, "generate")
		}
		span.End(nil, err)
		r.current.err = err
		r.state = StateRetryOrExhausted
		return
	}
	r.current.code = synthesis.ExtractCode(resp, a.box.Language())
	span.End(tracing.Fields{"code": r.current.code}, nil)
	r.state = StateExecuting
}

func (a *Agent) execute(ctx context.Context, r *run) {
	_, span := a.tracer.StartSpan(ctx, "execute", tracing.Fields{
		"attempt": r.current.index,
		"mode":    a.box.Mode().String(),
	})
	value, err := a.box.Execute(ctx, r.current.code, synthesis.DefaultEntryPoint, r.task.Input)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			err = types.Wrap(types.KindExecution, err, "execute")
		}
		span.End(nil, err)
		r.current.err = err
		r.state = StateRetryOrExhausted
		return
	}
	span.End(value, nil)
	r.value = value
	r.state = StateVerifying
}

func (a *Agent) verify(ctx context.Context, r *run) {
	ctx, span := a.tracer.StartSpan(ctx, "verify", tracing.Fields{"attempt": r.current.index})
	by, err := a.check(ctx, r)
	span.End(tracing.Fields{"verified_by": by}, err)
	if err != nil {
		r.current.err = err
		r.state = StateRetryOrExhausted
		return
	}
	r.verified = by
	r.state = StateSucceeded
}

// check applies the first verification source that is available: the
// task's predicate, the isolated sandbox's validation script, then the
// in-process schema validator when enabled.
func (a *Agent) check(ctx context.Context, r *run) (string, error) {
	if r.task.Verify != nil {
		return verifiedByPredicate, callPredicate(ctx, r.task.Verify, r.value)
	}
	if v, ok := a.box.(sandbox.Verifier); ok && a.box.Mode() == sandbox.ModeIsolated {
		script, err := schema.ValidationScript(r.end.Name, r.end.Schema)
		if err != nil {
			return verifiedBySandbox, types.Wrap(types.KindVerification, err, "render validation script")
		}
		return verifiedBySandbox, v.Verify(ctx, r.value, script)
	}
	if a.hostValidation {
		if err := schema.ValidateType(r.end.Name, r.end.Schema, r.value); err != nil {
			return verifiedByHost, types.Wrap(types.KindVerification, err, "schema mismatch")
		}
		return verifiedByHost, nil
	}
	return verifiedByNone, nil
}

func callPredicate(ctx context.Context, p Predicate, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.Errorf(types.KindVerification, "predicate panicked: %v", rec)
		}
	}()
	if err := p(ctx, value); err != nil {
		if types.KindOf(err) == types.KindVerification {
			return err
		}
		return types.Wrap(types.KindVerification, err, "predicate rejected value")
	}
	return nil
}

func (a *Agent) retryOrExhaust(ctx context.Context, r *run, log *zap.Logger) {
	failed := r.current
	r.aspan.End(nil, failed.err)
	a.tracer.LogEvent(ctx, "attempt_failed", tracing.Fields{
		"attempt": failed.index,
		"kind":    types.KindOf(failed.err).String(),
		"error":   failed.err.Error(),
	})
	log.Debug("attempt failed", zap.Int("attempt", failed.index), zap.Error(failed.err))

	if !types.Retryable(failed.err) {
		r.err = failed.err
		r.state = StateExhausted
		return
	}
	if failed.index >= r.task.retries() {
		r.err = &types.Error{
			Kind: types.KindSynthesisExhausted,
			Msg:  fmt.Sprintf("failed to solve %s after %d attempts", r.task, failed.index+1),
			Err:  failed.err,
		}
		a.tracer.LogEvent(ctx, "task_exhausted", tracing.Fields{
			"attempts":   failed.index + 1,
			"last_error": failed.err.Error(),
		})
		r.state = StateExhausted
		return
	}

	// a generation failure has no code of its own; show the last code with the newest error
	feedback := failed
	if feedback.code == "" && r.previous != nil {
		feedback.code = r.previous.code
	}
	r.previous = &feedback
	r.current = attempt{index: failed.index + 1}
	r.value = nil
	r.state = StateSynthesizing
}

func (a *Agent) learn(ctx context.Context, r *run) error {
	tool := ontology.Tool{
		Name:        fmt.Sprintf("%s_to_%s", r.start.Name, r.end.Name),
		InputType:   r.start.Name,
		OutputType:  r.end.Name,
		Constraints: []string{r.verified, "learned_at:" + time.Now().UTC().Format(time.RFC3339)},
		Code:        r.current.code,
	}
	if err := a.graph.AddTool(tool); err != nil {
		return err
	}
	a.tracer.LogEvent(ctx, "tool_learned", tracing.Fields{"tool": tool.Name})
	a.logger.Info("tool learned", zap.String("tool", tool.Name))
	return nil
}
