package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"promptloop/internal/config"
	"promptloop/internal/llm"
	"promptloop/internal/logging"
)

// errReported marks failures whose details were already written to stdout.
var errReported = errors.New("reported")

type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log zerolog.Logger

	// newProvider builds the completion provider for commands that call a model.
	newProvider func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (llm.Provider, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{newProvider: buildProvider}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "promptloop",
		Short: "Feedback loops, structured output and tool loops over LLM APIs",
		Long: `promptloop drives iterative generation against hosted LLM APIs.

Commands:
  extract   pull a JSON value out of free-form model output
  validate  extract and check a value against a schema
  test      run Go source against a task's test cases
  refine    generate, test and refine until a task passes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./promptloop.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override logging format (json, console)")

	root.AddCommand(
		extractCmd(a),
		validateCmd(a),
		testCmd(a),
		refineCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
		Output:       cmd.ErrOrStderr(),
	})
	a.cfg = cfg
	a.log = logging.Component("cli")
	return nil
}
