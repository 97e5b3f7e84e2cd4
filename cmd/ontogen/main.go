package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ontogen/internal/config"
	"ontogen/internal/logging"
)

var (
	// Global flags
	cfgPath      string
	ontologyPath string
	verbose      bool
	timeout      time.Duration

	// Resolved configuration
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ontogen",
	Short: "ontogen - self-extending data transformation agent",
	Long: `ontogen keeps a capability graph of data types and the tools that convert
between them. When no tool connects two types it asks a language model for
one, runs the candidate in a sandbox, verifies the result and retries with
the failure as feedback.

The graph is stored as JSON, or in SQLite when the ontology path ends in
.db or .sqlite.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

// setup loads configuration, applies flag overrides and initializes logging.
func setup() error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if ontologyPath != "" {
		c.Ontology.Path = ontologyPath
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if _, err := logging.Initialize(c.Logging.Logging(verbose)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg = c
	logging.Boot("config loaded (file=%q provider=%s sandbox=%s ontology=%s)",
		cfgPath, c.LLM.Provider, c.Sandbox.Mode, c.Ontology.Path)
	return nil
}

// commandContext bounds a command by --timeout and cancels on SIGINT/SIGTERM.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "ontogen.yaml", "Config file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&ontologyPath, "ontology", "", "Ontology path (overrides config; .db/.sqlite selects SQLite)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Command timeout (0 disables)")

	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(gapCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(batchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
