package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ontogen/internal/logging"
	"ontogen/internal/types"
)

// Harness exit codes, one per failure class.
const (
	exitRuntime     = 1
	exitDefinition  = 3
	exitMissing     = 4
	exitNotCallable = 5
)

const (
	payloadFile  = "payload.py"
	inputFile    = "input.json"
	harnessFile  = "harness.py"
	resultFile   = "result.json"
	validateFile = "validate.py"
)

//go:embed templates/harness.py.tmpl
var harnessSource string

var harnessTemplate = template.Must(template.New(harnessFile).Parse(harnessSource))

// Isolated runs Python payloads in a fresh scratch directory through a
// Runner. Every invocation gets its own directory, removed on return.
type Isolated struct {
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

// NewIsolated builds an isolated sandbox. A nil Runner means a host
// python3 ProcessRunner.
func NewIsolated(opts Options) *Isolated {
	runner := opts.Runner
	if runner == nil {
		runner = NewProcessRunner("")
	}
	return &Isolated{
		runner:  runner,
		timeout: opts.Timeout,
		logger:  loggerOr(opts.Logger, logging.Get(logging.CategorySandbox).Zap),
	}
}

func (s *Isolated) Mode() Mode       { return ModeIsolated }
func (s *Isolated) Language() string { return "python" }

// Execute writes the payload, its input and a harness, runs the harness and
// decodes the JSON it prints.
func (s *Isolated) Execute(ctx context.Context, code, entryPoint string, input any) (any, error) {
	inputDoc, err := json.Marshal(input)
	if err != nil {
		return nil, types.Wrap(types.KindExecution, err, "input is not JSON-serializable")
	}
	harness, err := renderHarness(entryPoint)
	if err != nil {
		return nil, types.Wrap(types.KindExecution, err, "render harness")
	}

	dir, err := os.MkdirTemp("", "ontogen-run-*")
	if err != nil {
		return nil, types.Wrap(types.KindExecution, err, "create scratch directory")
	}
	defer os.RemoveAll(dir)

	files := map[string][]byte{
		payloadFile: []byte(code),
		inputFile:   inputDoc,
		harnessFile: []byte(harness),
	}
	if err := writeFiles(dir, files); err != nil {
		return nil, types.Wrap(types.KindExecution, err, "prepare scratch directory")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.runner.Run(ctx, dir, harnessFile)
	if err != nil {
		return nil, types.Wrap(types.KindExecution, err, "run payload")
	}
	s.logger.Debug("payload finished",
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration),
		zap.Bool("truncated", out.Truncated))

	if out.ExitCode != 0 {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("payload exited with code %d", out.ExitCode)
		}
		return nil, types.Errorf(exitKind(out.ExitCode), "%s", msg)
	}

	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &value); err != nil {
		return nil, types.Errorf(types.KindOutputDecode, "payload output is not JSON: %q", truncate(out.Stdout, 200))
	}
	return value, nil
}

// Verify stores value as result.json next to validationCode and runs it.
// A non-zero exit is a verification failure carrying the script's output.
func (s *Isolated) Verify(ctx context.Context, value any, validationCode string) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return types.Wrap(types.KindVerification, err, "result is not JSON-serializable")
	}

	dir, err := os.MkdirTemp("", "ontogen-verify-*")
	if err != nil {
		return types.Wrap(types.KindVerification, err, "create scratch directory")
	}
	defer os.RemoveAll(dir)

	if err := writeFiles(dir, map[string][]byte{
		resultFile:   doc,
		validateFile: []byte(validationCode),
	}); err != nil {
		return types.Wrap(types.KindVerification, err, "prepare scratch directory")
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.runner.Run(ctx, dir, validateFile)
	if err != nil {
		return types.Wrap(types.KindVerification, err, "run validation")
	}
	if out.ExitCode != 0 {
		return types.Errorf(types.KindVerification, "%s", strings.TrimSpace(out.Combined()))
	}
	return nil
}

func renderHarness(entryPoint string) (string, error) {
	// A JSON string literal is also a valid Python string literal.
	lit, err := json.Marshal(entryPoint)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := harnessTemplate.Execute(&buf, struct{ EntryPoint string }{string(lit)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func exitKind(code int) types.Kind {
	switch code {
	case exitDefinition:
		return types.KindDefinition
	case exitMissing:
		return types.KindEntryPointMissing
	case exitNotCallable:
		return types.KindEntryPointNotCallable
	default:
		return types.KindExecution
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
