package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ontogen/internal/agent"
	"ontogen/internal/logging"
	"ontogen/internal/types"
)

var (
	inputValue string
	inputFile  string
	inputRaw   bool
	sandboxArg string

	execCodeFile string
	execEntry    string

	solveVerify     string
	solveMaxRetries int
	solveLearn      bool
	solveShowCode   bool
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a payload's entry point in the sandbox",
	Example: `  ontogen exec --code-file upper.py --input '"hello"'
  ontogen exec --sandbox inprocess --code-file add.go --entry add --input 5`,
	Args: cobra.NoArgs,
	RunE: runExec,
}

var solveCmd = &cobra.Command{
	Use:   "solve [start-type] [end-type]",
	Short: "Synthesize, run and verify a transformation between two types",
	Long: `Checks the capability graph for a gap between the two types. When one
exists, asks the configured model for a transform function, runs it on the
input in the sandbox and verifies the result, retrying with the failure as
feedback until --max-retries is spent.

Verification uses --verify (a jq expression that must yield true) when given;
otherwise the isolated sandbox checks the result against the end type's schema.`,
	Example: `  ontogen solve TextContent KGTriples --raw --input "Ada is an engineer." --verify 'length > 0'`,
	Args:    cobra.ExactArgs(2),
	RunE:    runSolve,
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Solve independent tasks from a YAML file concurrently",
	Long: `Reads tasks from a YAML file:

  tasks:
    - start: TextContent
      end: KGTriples
      input: "Ada is an engineer."
      verify: 'length > 0'
      max_retries: 2

Tasks run with agent.concurrency workers. The graph is not modified.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	for _, c := range []*cobra.Command{execCmd, solveCmd} {
		c.Flags().StringVar(&inputValue, "input", "", "Input value as JSON")
		c.Flags().StringVar(&inputFile, "input-file", "", "Input file (- for stdin)")
		c.Flags().BoolVar(&inputRaw, "raw", false, "Treat the input as a plain string")
		c.Flags().StringVar(&sandboxArg, "sandbox", "", "Sandbox mode (inprocess, isolated); default from config")
	}
	for _, c := range []*cobra.Command{batchCmd} {
		c.Flags().StringVar(&sandboxArg, "sandbox", "", "Sandbox mode (inprocess, isolated); default from config")
	}

	execCmd.Flags().StringVar(&execCodeFile, "code-file", "", "Payload source file (required)")
	execCmd.Flags().StringVar(&execEntry, "entry", "transform", "Entry point to call")
	_ = execCmd.MarkFlagRequired("code-file")

	solveCmd.Flags().StringVar(&solveVerify, "verify", "", "jq expression the result must satisfy")
	solveCmd.Flags().IntVar(&solveMaxRetries, "max-retries", -1, "Retry budget (default from config)")
	solveCmd.Flags().BoolVar(&solveLearn, "learn", false, "Save the successful payload as a tool (also agent.learn_tools)")
	solveCmd.Flags().BoolVar(&solveShowCode, "show-code", false, "Print the payload that produced the result")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	code, err := os.ReadFile(execCodeFile)
	if err != nil {
		return err
	}
	input, err := taskInput(cmd)
	if err != nil {
		return err
	}
	box, err := newSandbox(sandboxArg)
	if err != nil {
		return err
	}

	logging.SandboxDebug("exec %s in %s sandbox", execEntry, box.Mode())
	out, err := box.Execute(ctx, string(code), execEntry, input)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	input, err := taskInput(cmd)
	if err != nil {
		return err
	}
	task := agent.NewTask(args[0], args[1], input)
	task.MaxRetries = cfg.GetMaxRetries()
	if solveMaxRetries >= 0 {
		task.MaxRetries = solveMaxRetries
	}
	if solveVerify != "" {
		if task.Verify, err = agent.JQPredicate(solveVerify); err != nil {
			return err
		}
	}

	h, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer h.close()

	learn := solveLearn || cfg.Agent.LearnTools
	a, closeTracer, err := newAgent(h.graph, sandboxArg, learn)
	if err != nil {
		return err
	}
	defer closeTracer()

	res, err := a.Solve(ctx, task)
	if err != nil {
		return err
	}
	if learn {
		if err := h.save(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if solveShowCode {
		fmt.Fprintf(out, "# solved in %d attempt(s)\n%s\n\n", res.Attempts, res.Code)
	}
	return printJSON(out, res.Value)
}

// batchFile is the YAML document read by the batch command.
type batchFile struct {
	Tasks []batchTask `yaml:"tasks"`
}

type batchTask struct {
	Start      string `yaml:"start"`
	End        string `yaml:"end"`
	Input      any    `yaml:"input"`
	Verify     string `yaml:"verify"`
	MaxRetries *int   `yaml:"max_retries"`
}

func loadBatch(path string) ([]agent.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc batchFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.Wrap(types.KindConfig, err, fmt.Sprintf("parse %s", path))
	}

	tasks := make([]agent.Task, 0, len(doc.Tasks))
	for i, bt := range doc.Tasks {
		if bt.Start == "" || bt.End == "" {
			return nil, types.Errorf(types.KindConfig, "task %d: start and end are required", i)
		}
		task := agent.NewTask(bt.Start, bt.End, bt.Input)
		task.MaxRetries = cfg.GetMaxRetries()
		if bt.MaxRetries != nil {
			task.MaxRetries = *bt.MaxRetries
		}
		if bt.Verify != "" {
			if task.Verify, err = agent.JQPredicate(bt.Verify); err != nil {
				return nil, fmt.Errorf("task %d: %w", i, err)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	tasks, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	h, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer h.close()

	a, closeTracer, err := newAgent(h.graph, sandboxArg, false)
	if err != nil {
		return err
	}
	defer closeTracer()

	outcomes, err := a.SolveAll(ctx, tasks, cfg.Agent.Concurrency)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTASK\tSTATUS\tATTEMPTS\tDETAIL")
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t%v\n", i, o.Task, types.KindOf(o.Err), o.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\tok\t%d\t%s\n", i, o.Task, o.Result.Attempts, compact(fmt.Sprint(o.Result.Value)))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(outcomes))
	}
	return nil
}

// taskInput reads --input/--input-file, decoding JSON unless --raw.
func taskInput(cmd *cobra.Command) (any, error) {
	data, err := readInput(inputValue, inputFile, cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	return decodeValue(data, inputRaw)
}
