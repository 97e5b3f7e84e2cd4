package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ontogen/internal/ontology"
	"ontogen/internal/schema"
	"ontogen/internal/types"
)

var (
	typeSchema     string
	typeSchemaFile string

	toolName        string
	toolCodeFile    string
	toolConstraints []string

	validateValue     string
	validateValueFile string
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Manage data types",
}

var typesAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register or replace a data type",
	Example: `  ontogen types add TextContent --schema '{"type":"string"}'
  ontogen types add KGTriples --schema-file triples.json`,
	Args: cobra.ExactArgs(1),
	RunE: runTypesAdd,
}

var typesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List data types",
	Args:  cobra.NoArgs,
	RunE:  runTypesList,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage tools (graph edges)",
}

var toolsAddCmd = &cobra.Command{
	Use:   "add [input-type] [output-type]",
	Short: "Register or replace the tool between two types",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolsAdd,
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsRemoveCmd = &cobra.Command{
	Use:   "remove [input-type] [output-type]",
	Short: "Remove the tool between two types",
	Args:  cobra.ExactArgs(2),
	RunE:  runToolsRemove,
}

var pathCmd = &cobra.Command{
	Use:   "path [start] [end]",
	Short: "Print the shortest tool path between two types",
	Args:  cobra.ExactArgs(2),
	RunE:  runPath,
}

var gapCmd = &cobra.Command{
	Use:   "gap [start] [end]",
	Short: "Report whether a capability gap separates two types",
	Args:  cobra.ExactArgs(2),
	RunE:  runGap,
}

var validateCmd = &cobra.Command{
	Use:   "validate [type]",
	Short: "Check a JSON value against a type's schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	typesAddCmd.Flags().StringVar(&typeSchema, "schema", "", "Schema as JSON")
	typesAddCmd.Flags().StringVar(&typeSchemaFile, "schema-file", "", "Schema file (- for stdin)")
	typesCmd.AddCommand(typesAddCmd, typesListCmd)

	toolsAddCmd.Flags().StringVar(&toolName, "name", "", "Tool name (default <input>_to_<output>)")
	toolsAddCmd.Flags().StringVar(&toolCodeFile, "code-file", "", "Payload source to cache on the tool")
	toolsAddCmd.Flags().StringSliceVar(&toolConstraints, "constraint", nil, "Constraint label (repeatable)")
	toolsCmd.AddCommand(toolsAddCmd, toolsListCmd, toolsRemoveCmd)

	validateCmd.Flags().StringVar(&validateValue, "value", "", "Value as JSON")
	validateCmd.Flags().StringVar(&validateValueFile, "value-file", "", "Value file (- for stdin)")
}

func runTypesAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	data, err := readInput(typeSchema, typeSchemaFile, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	s, err := schema.Parse(data)
	if err != nil {
		return err
	}

	name := args[0]
	if err := mutateGraph(ctx, func(g *ontology.Graph) error {
		g.AddType(name, s)
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered type %s\n", name)
	return nil
}

func runTypesList(cmd *cobra.Command, args []string) error {
	h, err := openGraph(ctxOf(cmd))
	if err != nil {
		return err
	}
	defer h.close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSCHEMA")
	for _, t := range h.graph.Types() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, orDash(t.Schema.Kind()), compact(t.Schema.JSON()))
	}
	return w.Flush()
}

func runToolsAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	tool := ontology.Tool{
		Name:        toolName,
		InputType:   args[0],
		OutputType:  args[1],
		Constraints: toolConstraints,
	}
	if tool.Name == "" {
		tool.Name = args[0] + "_to_" + args[1]
	}
	if toolCodeFile != "" {
		code, err := readInput("", toolCodeFile, cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("code: %w", err)
		}
		tool.Code = string(code)
	}

	if err := mutateGraph(ctx, func(g *ontology.Graph) error {
		return g.AddTool(tool)
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered tool %s (%s -> %s)\n", tool.Name, tool.InputType, tool.OutputType)
	return nil
}

func runToolsList(cmd *cobra.Command, args []string) error {
	h, err := openGraph(ctxOf(cmd))
	if err != nil {
		return err
	}
	defer h.close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINPUT\tOUTPUT\tCONSTRAINTS\tCODE")
	for _, t := range h.graph.Tools() {
		code := "-"
		if t.Code != "" {
			code = fmt.Sprintf("%d bytes", len(t.Code))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.InputType, t.OutputType, orDash(strings.Join(t.Constraints, ",")), code)
	}
	return w.Flush()
}

func runToolsRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(ctxOf(cmd))
	defer cancel()

	if err := mutateGraph(ctx, func(g *ontology.Graph) error {
		if !g.RemoveTool(args[0], args[1]) {
			return types.Errorf(types.KindGraphLookup, "no tool from %s to %s", args[0], args[1])
		}
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed tool %s -> %s\n", args[0], args[1])
	return nil
}

func runPath(cmd *cobra.Command, args []string) error {
	h, err := openGraph(ctxOf(cmd))
	if err != nil {
		return err
	}
	defer h.close()

	path := h.graph.FindPath(args[0], args[1])
	if len(path) == 0 {
		return types.Errorf(types.KindGraphLookup, "no path from %s to %s", args[0], args[1])
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
	return nil
}

func runGap(cmd *cobra.Command, args []string) error {
	h, err := openGraph(ctxOf(cmd))
	if err != nil {
		return err
	}
	defer h.close()
	return printJSON(cmd.OutOrStdout(), h.graph.DetectGap(args[0], args[1]))
}

func runValidate(cmd *cobra.Command, args []string) error {
	h, err := openGraph(ctxOf(cmd))
	if err != nil {
		return err
	}
	defer h.close()

	dt, ok := h.graph.Type(args[0])
	if !ok {
		return types.Errorf(types.KindGraphLookup, "unknown data type %q", args[0])
	}
	data, err := readInput(validateValue, validateValueFile, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	v, err := decodeValue(data, false)
	if err != nil {
		return err
	}
	if err := schema.ValidateType(dt.Name, dt.Schema, v); err != nil {
		return types.Wrap(types.KindVerification, err, fmt.Sprintf("value does not match %s", dt.Name))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid %s\n", dt.Name)
	return nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
