package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"ontogen/internal/logging"
	"ontogen/internal/types"
)

// DefaultAllowedPackages are the standard library packages payloads may import.
// Filesystem, process, network, syscall and unsafe packages are absent.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// InProcess interprets Go payloads with yaegi inside the host process. Each
// call gets a fresh interpreter, so nothing leaks between payloads.
//
// The import allow-list is the only restriction: a payload can still spin
// or allocate without bound, and a call that outlives its deadline keeps
// running in the background. Do not feed it adversarial code.
type InProcess struct {
	allowed map[string]bool
	timeout time.Duration
	logger  *zap.Logger
}

// NewInProcess builds an in-process sandbox.
func NewInProcess(opts Options) *InProcess {
	pkgs := opts.AllowedPackages
	if pkgs == nil {
		pkgs = DefaultAllowedPackages
	}
	allowed := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		allowed[p] = true
	}
	return &InProcess{
		allowed: allowed,
		timeout: opts.Timeout,
		logger:  loggerOr(opts.Logger, logging.Get(logging.CategorySandbox).Zap),
	}
}

func (s *InProcess) Mode() Mode       { return ModeInProcess }
func (s *InProcess) Language() string { return "go" }

// Execute calls entryPoint with input as its only argument.
func (s *InProcess) Execute(ctx context.Context, code, entryPoint string, input any) (any, error) {
	return s.Call(ctx, code, entryPoint, input)
}

type callResult struct {
	value any
	err   error
}

// Call evaluates code and invokes entryPoint with args. Arguments are
// converted to the parameter types where Go allows it, falling back to a
// JSON round trip for composite values.
func (s *InProcess) Call(ctx context.Context, code, entryPoint string, args ...any) (any, error) {
	if !token.IsIdentifier(entryPoint) {
		return nil, types.Errorf(types.KindEntryPointMissing, "entry point %q is not an identifier", entryPoint)
	}
	src, pkg, err := s.prepare(code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, types.Wrap(types.KindExecution, err, "failed to load stdlib")
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		if ctx.Err() != nil {
			return nil, types.Wrap(types.KindExecution, ctx.Err(), "code evaluation timed out")
		}
		return nil, types.Wrap(types.KindDefinition, err, "failed to define code")
	}

	fn, err := resolve(i, pkg, entryPoint)
	if err != nil {
		return nil, err
	}

	done := make(chan callResult, 1)
	go func() {
		v, err := invoke(fn, entryPoint, args)
		done <- callResult{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		s.logger.Warn("in-process call abandoned", zap.String("entry_point", entryPoint), zap.Error(ctx.Err()))
		return nil, types.Wrap(types.KindExecution, ctx.Err(), fmt.Sprintf("execution of '%s' timed out", entryPoint))
	}
}

// prepare adds a package clause when missing and checks imports against the
// allow-list. It returns the source and its package name.
func (s *InProcess) prepare(code string) (string, string, error) {
	src := code
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "payload.go", src, parser.PackageClauseOnly)
	if err != nil {
		src = "package main\n\n" + code
	}
	f, err = parser.ParseFile(fset, "payload.go", src, parser.ImportsOnly)
	if err != nil {
		return "", "", types.Wrap(types.KindDefinition, err, "failed to parse code")
	}

	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !s.allowed[path] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		return "", "", types.Errorf(types.KindDefinition,
			"forbidden imports detected: %s (allowed: %s)", strings.Join(forbidden, ", "), strings.Join(s.allowedList(), ", "))
	}
	return src, f.Name.Name, nil
}

func (s *InProcess) allowedList() []string {
	out := make([]string, 0, len(s.allowed))
	for p := range s.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func resolve(i *interp.Interpreter, pkg, entryPoint string) (reflect.Value, error) {
	v, err := i.Eval(pkg + "." + entryPoint)
	if err != nil {
		v, err = i.Eval(entryPoint)
	}
	if err != nil || !v.IsValid() {
		return reflect.Value{}, types.Errorf(types.KindEntryPointMissing, "entry point '%s' not found in executed code", entryPoint)
	}
	if v.Kind() != reflect.Func {
		return reflect.Value{}, types.Errorf(types.KindEntryPointNotCallable, "entry point '%s' is not callable", entryPoint)
	}
	return v, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func invoke(fn reflect.Value, entryPoint string, args []any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = types.Errorf(types.KindExecution, "failed to execute entry point '%s': panic: %v", entryPoint, r)
		}
	}()

	in, err := convertArgs(fn.Type(), args)
	if err != nil {
		return nil, types.Wrap(types.KindExecution, err, fmt.Sprintf("failed to execute entry point '%s'", entryPoint))
	}
	outs := fn.Call(in)

	if n := len(outs); n > 0 && fn.Type().Out(n-1).Implements(errorType) {
		last := outs[n-1]
		if !last.IsNil() {
			callErr, _ := last.Interface().(error)
			return nil, types.Wrap(types.KindExecution, callErr, fmt.Sprintf("failed to execute entry point '%s'", entryPoint))
		}
		outs = outs[:n-1]
	}
	if len(outs) == 0 {
		return nil, nil
	}
	return normalize(outs[0]), nil
}

func convertArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("takes at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("takes %d arguments, got %d", n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for idx, arg := range args {
		var want reflect.Type
		if ft.IsVariadic() && idx >= n-1 {
			want = ft.In(n - 1).Elem()
		} else {
			want = ft.In(idx)
		}
		v, err := convertArg(arg, want)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", idx, err)
		}
		in[idx] = v
	}
	return in, nil
}

func convertArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(want.Kind()) {
		return v.Convert(want), nil
	}
	doc, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, want)
	}
	ptr := reflect.New(want)
	if err := json.Unmarshal(doc, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, want)
	}
	return ptr.Elem(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// normalize turns interpreter-defined structs (and collections of them) into
// plain maps and slices so results look like decoded JSON.
func normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if needsJSON(v.Type()) {
		doc, err := json.Marshal(v.Interface())
		if err == nil {
			var out any
			if json.Unmarshal(doc, &out) == nil {
				return out
			}
		}
	}
	return v.Interface()
}

func needsJSON(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Struct, reflect.Ptr:
		return true
	case reflect.Slice, reflect.Array, reflect.Map:
		k := t.Elem().Kind()
		return k == reflect.Struct || k == reflect.Ptr
	}
	return false
}
