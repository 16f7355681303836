// Package main provides the hitlflow binary entry point.
// Hitlflow runs human-in-the-loop requirement review checkpoints and hands
// analysis and test generation to remote delegates.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/c360studio/hitlflow/api"
	"github.com/c360studio/hitlflow/config"
	"github.com/c360studio/hitlflow/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "hitlflow"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorColor("Error:"), err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Human-in-the-loop requirement review workflow",
		Long: `Hitlflow tracks human review checkpoints for requirement analysis
and test generation.

Each checkpoint (start, review, refine, enhance, edited, approved,
rejected) updates the session's feedback record and returns a decision.
Delegating decisions are executed against the analyzer or generator.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&g),
		applyCmd(&g),
		retryCmd(&g),
		historyCmd(&g),
		suggestCmd(&g),
		initCmd(&g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func newLogger(logLevel string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// setup loads config and starts the app. The returned source is the most
// specific config file that was loaded, if any.
func setup(ctx context.Context, g *globalFlags) (*App, string, error) {
	logger := newLogger(g.logLevel, os.Stderr)
	slog.SetDefault(logger)

	cfg, source, err := config.NewLoader(logger).Load(g.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return nil, "", err
	}
	return app, source, nil
}

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkpoint API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, source, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if addr == "" {
				addr = app.cfg.HTTP.Addr
			}

			if source != "" {
				reload := func() (config.PolicyConfig, error) {
					cfg, _, err := config.NewLoader(app.logger).Load(g.configPath)
					if err != nil {
						return config.PolicyConfig{}, err
					}
					return cfg.Policy, nil
				}
				w, err := config.NewWatcher(source, app.cfg.Policy, reload, func(p config.PolicyConfig) {
					app.ApplyPolicy(p)
				}, app.logger)
				if err != nil {
					app.logger.Warn("Config watcher disabled", "path", source, "error", err)
				} else {
					defer w.Close()
					go w.Run(ctx)
				}
			}

			return serve(ctx, app, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func serve(ctx context.Context, app *App, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(app.runner, app.metrics, app.health, app.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("Hitlflow ready", "version", Version, "addr", addr, "store", app.cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		app.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func applyCmd(g *globalFlags) *cobra.Command {
	var run bool

	cmd := &cobra.Command{
		Use:   "apply <session-id> <status> [input]",
		Short: "Apply a checkpoint to a session",
		Long: `Apply a checkpoint to a session and print the decision.

Valid statuses: start, approved, edited, rejected, refine, review, enhance.
Reviews take "score:N; feedback:TEXT". With --run, a delegating decision
is executed and the delegate's output is recorded.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, _, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			var input string
			if len(args) == 3 {
				input = args[2]
			}

			if !run {
				d, err := app.engine.Apply(ctx, args[1], input, args[0])
				if err != nil {
					return err
				}
				return printDecision(cmd.OutOrStdout(), d, nil)
			}

			out, err := app.runner.Run(ctx, args[1], input, args[0])
			if err != nil {
				return err
			}
			return printDecision(cmd.OutOrStdout(), out.Decision, out)
		},
	}

	cmd.Flags().BoolVar(&run, "run", false, "Execute the delegation the decision requests")
	return cmd
}

func retryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Re-issue a session's pending delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, _, err := setup(ctx, g)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			out, err := app.runner.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			return printDecision(cmd.OutOrStdout(), out.Decision, out)
		},
	}
}

func historyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's feedback history and analytics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			h, err := app.engine.FeedbackHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}

func suggestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <session-id>",
		Short: "Print improvement suggestions for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			s, err := app.engine.SuggestImprovements(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}

func initCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the user config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.NewLoader(newLogger(g.logLevel, os.Stderr)).EnsureUserConfig()
		},
	}
}

// printDecision writes a colored status line followed by the JSON body.
// out is nil when no delegation was attempted.
func printDecision(w io.Writer, d *workflow.Decision, out *workflow.Outcome) error {
	fmt.Fprintf(w, "%s %s\n", headerColor("decision:"), statusColor(d.Status))
	if out != nil && out.DelegationError != nil {
		fmt.Fprintf(w, "%s %s (%s after %d attempt(s))\n",
			errorColor("delegation failed:"), out.DelegationError.Message,
			out.DelegationError.Kind, out.DelegationError.Attempts)
	}
	if out != nil && out.Stale {
		fmt.Fprintf(w, "%s session moved on, output not recorded\n", warnColor("stale result:"))
	}
	if out != nil {
		return printJSON(w, out)
	}
	return printJSON(w, d)
}

func statusColor(s workflow.DecisionStatus) string {
	switch s {
	case workflow.DecisionDelegating, workflow.DecisionQualityApproved:
		return successColor(string(s))
	case workflow.DecisionNeedsImprovement, workflow.DecisionRejected:
		return warnColor(string(s))
	default:
		return errorColor(string(s))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
