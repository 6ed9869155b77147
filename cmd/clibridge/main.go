package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xunmengshe2x/Claudable/internal/adapter"
	"github.com/xunmengshe2x/Claudable/internal/config"
	"github.com/xunmengshe2x/Claudable/internal/models"
	"github.com/xunmengshe2x/Claudable/internal/qwen"
	"github.com/xunmengshe2x/Claudable/internal/render"
	"github.com/xunmengshe2x/Claudable/internal/runner"
	"github.com/xunmengshe2x/Claudable/internal/session"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "clibridge",
		Short:         "clibridge - drive coding CLIs and stream normalized messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("adapter", config.DefaultAdapter, "Adapter name (qwen, mock)")
	flags.String("session-store", "", "Session store path, or \"memory\"")
	flags.String("qwen-cmd", "", "Qwen CLI command (overrides QWEN_CMD)")
	flags.String("model", "", "Model passed to the CLI")
	flags.Bool("native-auth", false, "Let the CLI use its own login when no API key is set")
	flags.Bool("allow-file-read", false, "Serve file reads requested by the CLI from the work dir")
	flags.Bool("probe-version", true, "Run the CLI's --version during availability checks")
	flags.Bool("verify-endpoint", false, "List models from the endpoint during availability checks")
	flags.String("system-prompt", "", "File seeding QWEN.md on initial prompts")
	flags.Bool("verbose", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(), newCheckCmd(), newModelsCmd(), newSessionsCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Execute one instruction and stream the messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := strings.Join(args, " ")
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			projectPath, err := filepath.Abs(cfg.Project)
			if err != nil {
				return err
			}

			env, err := buildEnv(cfg, logger)
			if err != nil {
				return err
			}
			defer env.close()
			selected, ok := env.registry.Get(cfg.Adapter)
			if !ok {
				return fmt.Errorf("unknown adapter %q (available: %s)", cfg.Adapter, strings.Join(env.registry.Names(), ", "))
			}

			initial, _ := cmd.Flags().GetBool("initial")
			sessionID := cfg.SessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
				initial = true
				logger.Info("no session given, starting a new one", zap.String("session_id", sessionID))
			}
			images, _ := cmd.Flags().GetStringSlice("image")
			req := adapter.ExecutionRequest{
				Instruction:     instruction,
				ProjectPath:     projectPath,
				SessionID:       sessionID,
				IsInitialPrompt: initial,
				Model:           cfg.Qwen.Model,
				Timeout:         cfg.Timeout,
				Images:          images,
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if cfg.JSON {
				result, err := runner.New(selected, nil, logger).Run(ctx, req)
				if cfg.PersistRuns {
					persistRun(logger, result)
				}
				payload, _ := json.MarshalIndent(result, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
				return err
			}

			writer := io.Writer(os.Stdout)
			var logFile *os.File
			if cfg.LogFile != "" {
				logPath := cfg.LogFile
				if !filepath.IsAbs(logPath) {
					logPath = filepath.Join(projectPath, logPath)
				}
				file, err := os.Create(logPath)
				if err != nil {
					return err
				}
				logFile = file
				writer = io.MultiWriter(os.Stdout, logFile)
			}
			var renderer render.Renderer
			if cfg.StreamJSON {
				renderer = render.NewJSONLRenderer(writer)
			} else {
				renderer = render.NewStdoutRenderer(writer, cfg.Verbose, cfg.Quiet, cfg.ShowTools)
			}
			runResult, runErr := runner.New(selected, renderer, logger).Run(ctx, req)
			if err := renderer.Close(); err != nil {
				logger.Warn("failed to write output", zap.Error(err))
			}
			if logFile != nil {
				_ = logFile.Close()
			}
			if cfg.PersistRuns {
				persistRun(logger, runResult)
			}
			if errors.Is(runErr, runner.ErrRunFailed) {
				// already rendered
				return errSilent
			}
			return runErr
		},
	}

	cmd.Flags().String("project", ".", "Project directory")
	cmd.Flags().String("session", "", "Caller session ID; empty starts a new session")
	cmd.Flags().Bool("initial", false, "Treat this as the first prompt of the session")
	cmd.Flags().String("timeout", config.DefaultTimeout.String(), "Timeout (e.g. 10m)")
	cmd.Flags().StringSlice("image", nil, "Image attachment (repeatable)")
	cmd.Flags().Bool("show-tools", true, "Show tool call summaries")
	cmd.Flags().Bool("quiet", false, "Only print assistant messages and errors")
	cmd.Flags().Bool("json", false, "Output the run result as JSON")
	cmd.Flags().Bool("stream-json", false, "Stream messages as JSON lines")
	cmd.Flags().String("log-file", "", "Write plain-text output to a file")
	cmd.Flags().Bool("persist-runs", false, "Save the run result under ~/.local/share/clibridge/runs")
	return cmd
}

// errSilent ends the process with a failure status without printing anything more.
var errSilent = errors.New("run failed")

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

// runtimeEnv holds the adapters and session store shared by the commands.
type runtimeEnv struct {
	registry *adapter.Registry
	store    session.Store
	closers  []func() error
}

func (e *runtimeEnv) close() {
	for _, c := range e.closers {
		_ = c()
	}
}

func buildEnv(cfg config.Config, logger *zap.Logger) (*runtimeEnv, error) {
	env := &runtimeEnv{}
	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	env.store = store
	if closer != nil {
		env.closers = append(env.closers, closer)
	}

	if os.Getenv("CLIBRIDGE_MOCK_ADAPTER") == "1" {
		env.registry = adapter.NewRegistry(adapter.NewMockAdapter(qwen.Name), adapter.NewMockAdapter("mock"))
		return env, nil
	}

	var catalog models.Lister
	if cfg.Qwen.APIKey != "" && cfg.Qwen.BaseURL != "" {
		c, err := models.NewCatalog(cfg.Qwen.APIKey, cfg.Qwen.BaseURL, cfg.HTTPReferer, cfg.Title)
		if err != nil {
			logger.Warn("model catalog disabled", zap.Error(err))
		} else {
			catalog = c
		}
	}
	q, err := qwen.New(cfg.QwenAdapterConfig(), store, catalog, logger)
	if err != nil {
		env.close()
		return nil, err
	}
	env.registry = adapter.NewRegistry(q, adapter.NewMockAdapter("mock"))
	return env, nil
}

func openStore(cfg config.Config) (session.Store, func() error, error) {
	mock := os.Getenv("CLIBRIDGE_MOCK_ADAPTER") == "1"
	if cfg.SessionStore == config.MemoryStore || (mock && cfg.SessionStore == "") {
		return session.NewMemoryStore(), nil, nil
	}
	path := cfg.SessionStore
	if path == "" {
		p, err := session.DefaultSQLitePath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	store, err := session.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func persistRun(logger *zap.Logger, result runner.RunResult) {
	dir, err := runner.DefaultRunsDir()
	if err != nil {
		logger.Warn("failed to get home dir", zap.Error(err))
		return
	}
	path, err := runner.Save(dir, result)
	if err != nil {
		logger.Warn("failed to persist run", zap.Error(err))
		return
	}
	logger.Debug("run persisted", zap.String("path", path))
}
