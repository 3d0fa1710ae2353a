package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"promptloop/internal/audit"
	"promptloop/internal/config"
	"promptloop/internal/llm"
	llmclient "promptloop/internal/llm/client"
	"promptloop/internal/metrics"
	"promptloop/internal/refine"
	"promptloop/internal/sandbox"
	"promptloop/internal/task"
)

func refineCmd(a *app) *cobra.Command {
	var (
		taskPath      string
		maxIterations int
		system        string
	)
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Generate and refine an artifact until the task passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := task.Load(taskPath)
			if err != nil {
				return err
			}
			cfg := a.cfg

			if cfg.Metrics.Addr != "" {
				mctx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := metrics.Serve(mctx, cfg.Metrics.Addr); err != nil {
						a.log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server stopped")
					}
				}()
			}

			sink, err := audit.Open(ctx, cfg.Audit)
			if err != nil {
				return err
			}
			defer func() {
				if err := sink.Close(); err != nil {
					a.log.Warn().Err(err).Msg("closing audit sink")
				}
			}()

			provider, err := a.newProvider(ctx, cfg, a.log)
			if err != nil {
				return err
			}

			budget := f.MaxIterationsOr(cfg.Refine.MaxIterations)
			if maxIterations > 0 {
				budget = maxIterations
			}
			ctrl := &refine.Controller{
				Provider:      provider,
				System:        system,
				MaxIterations: budget,
				Model:         cfg.Provider.Model,
				Temperature:   cfg.Provider.Temperature,
				MaxTokens:     cfg.Provider.MaxTokens,
				Retries:       cfg.Refine.Retries,
				RetryDelay:    cfg.Refine.RetryDelay,
				Sink:          sink,
				Logger:        a.log.With().Str("component", "refine").Logger(),
			}
			t := f.Refine()
			switch f.Kind {
			case task.KindCode:
				opts := cfg.SandboxOptions()
				opts.Logger = a.log
				ctrl.Evaluator = refine.CodeEvaluator{Runner: sandbox.New(opts), FunctionName: t.FunctionName, Cases: t.Cases}
				ctrl.Templates = refine.CodeTemplates{Packages: opts.Packages}
				ctrl.Extract = refine.CodeArtifact("go")
			case task.KindText:
				ctrl.Evaluator = refine.JudgeEvaluator{
					Provider:   provider,
					Persona:    t.Persona,
					Request:    t.Description,
					Criteria:   t.Criteria,
					Model:      cfg.Provider.Model,
					Retries:    cfg.Refine.Retries,
					RetryDelay: cfg.Refine.RetryDelay,
				}
				ctrl.Templates = refine.TextTemplates{}
				ctrl.Extract = refine.RawArtifact
			default:
				ctrl.Evaluator = refine.SchemaEvaluator{Schema: t.Schema}
				ctrl.Templates = refine.ObjectTemplates{}
				ctrl.Extract = refine.RawArtifact
			}

			out, err := ctrl.Run(ctx, t)
			if err != nil {
				var abort *refine.AbortError
				if errors.As(err, &abort) {
					return fmt.Errorf("refinement aborted at iteration %d: %w", abort.Iteration, abort.Cause)
				}
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.Status != refine.StatusSuccess {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskPath, "task", "t", "", "task YAML file")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the iteration budget")
	cmd.Flags().StringVar(&system, "system", "", "system message sent with every request")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

// buildProvider creates the configured client and wraps it with logging,
// metrics, tracing, the completion cache and the rate limit.
func buildProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) (llm.Provider, error) {
	p, err := llmclient.New(ctx, cfg.ClientOptions())
	if err != nil {
		return nil, err
	}
	mws := []llm.Middleware{
		llm.WithLogging(log.With().Str("component", "llm").Logger()),
		metrics.Middleware(),
		llm.Tracing(),
	}
	if cfg.Provider.CacheSize > 0 {
		ttl := cfg.Provider.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		mws = append(mws, llm.Cache(cfg.Provider.CacheSize, ttl))
	}
	mws = append(mws, llm.RateLimit(cfg.Provider.RPS, cfg.Provider.Burst))
	return llm.Wrap(p, mws...), nil
}
