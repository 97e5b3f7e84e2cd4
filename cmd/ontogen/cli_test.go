package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ontogen/internal/logging"
	"ontogen/internal/types"
)

// resetFlags restores every flag in the tree to its default so consecutive
// Execute calls do not leak state through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// cli runs ontogen with args against a fixed config file.
type cli struct {
	t   *testing.T
	cfg string
}

func newCLI(t *testing.T, ontology string, extra string) *cli {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "ontogen.yaml")
	doc := fmt.Sprintf("ontology:\n  path: %s\nlogging:\n  level: error\n%s", filepath.Join(dir, ontology), extra)
	require.NoError(t, os.WriteFile(cfgFile, []byte(doc), 0o644))
	t.Cleanup(logging.Reset)
	return &cli{t: t, cfg: cfgFile}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"-c", c.cfg, "--timeout", "1m"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "ontogen %s\n%s", strings.Join(args, " "), out)
	return out
}

func TestOntologyCommands(t *testing.T) {
	for _, file := range []string{"ontology.json", "ontology.db"} {
		t.Run(file, func(t *testing.T) {
			c := newCLI(t, file, "")

			assert.Contains(t, c.mustRun("types", "add", "Text", "--schema", `{"type":"string"}`), "registered type Text")
			c.mustRun("types", "add", "Shout", "--schema", `{"type": "string"}`)
			c.mustRun("types", "add", "Count", "--schema", `{"type":"integer"}`)

			out := c.mustRun("types", "list")
			assert.Contains(t, out, "Count")
			assert.Contains(t, out, "integer")

			assert.Contains(t, c.mustRun("tools", "add", "Text", "Shout", "--constraint", "manual"),
				"registered tool Text_to_Shout (Text -> Shout)")
			out = c.mustRun("tools", "list")
			assert.Contains(t, out, "Text_to_Shout")
			assert.Contains(t, out, "manual")

			assert.Equal(t, "Text -> Shout\n", c.mustRun("path", "Text", "Shout"))

			var gap struct {
				Gap    bool   `json:"gap"`
				Source string `json:"source"`
			}
			require.NoError(t, json.Unmarshal([]byte(c.mustRun("gap", "Shout", "Text")), &gap))
			assert.True(t, gap.Gap)
			assert.Equal(t, "Shout", gap.Source)

			c.mustRun("tools", "remove", "Text", "Shout")
			_, err := c.run("path", "Text", "Shout")
			assert.True(t, errors.Is(err, types.ErrGraphLookup), "got %v", err)

			_, err = c.run("tools", "remove", "Text", "Shout")
			assert.True(t, errors.Is(err, types.ErrGraphLookup), "got %v", err)

			// flags from the earlier add must not leak into this one
			c.mustRun("tools", "add", "Text", "Count")
			out = c.mustRun("tools", "list")
			assert.NotContains(t, out, "manual")
		})
	}
}

func TestValidateCommand(t *testing.T) {
	c := newCLI(t, "ontology.json", "")
	c.mustRun("types", "add", "Count", "--schema", `{"type":"integer"}`)

	assert.Equal(t, "valid Count\n", c.mustRun("validate", "Count", "--value", "3"))

	_, err := c.run("validate", "Count", "--value", `"three"`)
	assert.True(t, errors.Is(err, types.ErrVerification), "got %v", err)

	_, err = c.run("validate", "Missing", "--value", "3")
	assert.True(t, errors.Is(err, types.ErrGraphLookup), "got %v", err)
}

func TestInvalidConfig(t *testing.T) {
	c := newCLI(t, "ontology.json", "sandbox:\n  mode: vm\n")
	_, err := c.run("types", "list")
	assert.True(t, errors.Is(err, types.ErrConfig), "got %v", err)
}

const shoutPayload = "```go\npackage main\n\nimport \"strings\"\n\nfunc transform(input interface{}) (interface{}, error) {\n\ts, _ := input.(string)\n\treturn strings.ToUpper(s) + \"!\", nil\n}\n```"

// ollamaStub serves a fixed completion on /api/generate.
func ollamaStub(t *testing.T, completion string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": completion, "done": true})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func solveCLI(t *testing.T, completion string) (*cli, *atomic.Int32) {
	t.Helper()
	srv, calls := ollamaStub(t, completion)
	c := newCLI(t, "ontology.json", fmt.Sprintf(
		"llm:\n  provider: ollama\n  base_url: %s\nsandbox:\n  mode: inprocess\nagent:\n  host_validation: true\n", srv.URL))
	c.mustRun("types", "add", "Text", "--schema", `{"type":"string"}`)
	c.mustRun("types", "add", "Shout", "--schema", `{"type":"string"}`)
	return c, calls
}

func TestSolveCommand(t *testing.T) {
	c, calls := solveCLI(t, shoutPayload)

	out := c.mustRun("solve", "Text", "Shout", "--raw", "--input", "hello", "--verify", `endswith("!")`)
	assert.Equal(t, "\"HELLO!\"\n", out)
	assert.Equal(t, int32(1), calls.Load())

	// without --learn the gap stays open
	assert.NotContains(t, c.mustRun("tools", "list"), "Text_to_Shout")

	out = c.mustRun("solve", "Text", "Shout", "--raw", "--input", "hi", "--learn", "--show-code")
	assert.Contains(t, out, "# solved in 1 attempt(s)")
	assert.Contains(t, out, "func transform")
	assert.Contains(t, out, "\"HI!\"")

	out = c.mustRun("tools", "list")
	assert.Contains(t, out, "Text_to_Shout")
	assert.Contains(t, out, "host_schema")

	_, err := c.run("solve", "Text", "Shout", "--raw", "--input", "again")
	assert.True(t, errors.Is(err, types.ErrRejected), "got %v", err)
}

func TestSolveCommand_Exhausted(t *testing.T) {
	c, calls := solveCLI(t, shoutPayload)

	_, err := c.run("solve", "Text", "Shout", "--raw", "--input", "hello", "--verify", `. == "quiet"`, "--max-retries", "1")
	assert.True(t, errors.Is(err, types.ErrSynthesisExhausted), "got %v", err)
	assert.True(t, errors.Is(err, types.ErrVerification), "got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSolveCommand_BadPredicate(t *testing.T) {
	c, calls := solveCLI(t, shoutPayload)

	_, err := c.run("solve", "Text", "Shout", "--raw", "--input", "hello", "--verify", "((")
	assert.True(t, errors.Is(err, types.ErrConfig), "got %v", err)
	assert.Zero(t, calls.Load())
}

func TestExecCommand(t *testing.T) {
	c := newCLI(t, "ontology.json", "")
	code := filepath.Join(t.TempDir(), "add.go")
	require.NoError(t, os.WriteFile(code, []byte(`package main

func add(input interface{}) (interface{}, error) {
	n, _ := input.(float64)
	return n + 1, nil
}
`), 0o644))

	out := c.mustRun("exec", "--sandbox", "inprocess", "--code-file", code, "--entry", "add", "--input", "41")
	assert.Equal(t, "42\n", out)

	_, err := c.run("exec", "--sandbox", "inprocess", "--code-file", code, "--input", "41")
	assert.True(t, errors.Is(err, types.ErrEntryPointMissing), "got %v", err)

	_, err = c.run("exec", "--sandbox", "inprocess", "--code-file", code, "--input", "not json")
	assert.Error(t, err)
}

func TestBatchCommand(t *testing.T) {
	c, _ := solveCLI(t, shoutPayload)
	file := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`tasks:
  - start: Text
    end: Shout
    input: hello
    verify: 'endswith("!")'
  - start: Text
    end: Missing
    input: hello
    max_retries: 0
`), 0o644))

	out, err := c.run("batch", file)
	require.Error(t, err)
	assert.Equal(t, "1 of 2 tasks failed", err.Error())
	assert.Contains(t, out, "Text->Shout")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "graph_lookup")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tasks:\n  - start: Text\n"), 0o644))
	_, err = c.run("batch", bad)
	assert.True(t, errors.Is(err, types.ErrConfig), "got %v", err)
}
