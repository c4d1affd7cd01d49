package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"webpatrol/internal/api"
	"webpatrol/internal/browser"
	"webpatrol/internal/config"
	"webpatrol/internal/events"
	"webpatrol/internal/logging"
	"webpatrol/internal/notify"
	"webpatrol/internal/patrol"
	"webpatrol/internal/schedule"
	"webpatrol/internal/store"
	"webpatrol/internal/visual"
)

var (
	cfgFile string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webpatrol",
	Short: "webpatrol - headless browser patrols for storefront health",
	Long: `webpatrol drives a headless browser against configured URL lists,
classifies each page (homepage, landing, product, general), runs
role-specific DOM checks, and reports pass/fail verdicts with
screenshots and visual diffs.

Tasks run on demand via the API or CLI, or on a cron schedule.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the patrol API server and cron scheduler",
	RunE:  runServe,
}

var taskFile string

var runCmd = &cobra.Command{
	Use:   "run [task-id]",
	Short: "Execute one patrol task and wait for its result",
	Long: `Runs a single patrol to completion and prints the per-URL outcomes.

The task is either an existing task id, or a YAML task definition
supplied via --file, which is registered first and then executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOnce,
}

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil {
			return fmt.Errorf("refusing to overwrite existing %s", cfgFile)
		}
		if err := config.DefaultConfig().Save(cfgFile); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "webpatrol.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	runCmd.Flags().StringVarP(&taskFile, "file", "f", "", "YAML task definition to register and run")
	rootCmd.AddCommand(serveCmd, runCmd, configInitCmd)
}

// engine bundles everything the commands compose from the config.
type engine struct {
	cfg   *config.Config
	store *store.Store
	bus   *events.Bus
	pool  *browser.Pool
	svc   *patrol.Service
}

func buildEngine() (*engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	pool := browser.NewPool(browser.Config{
		DebuggerURL:    cfg.Browser.DebuggerURL,
		Bin:            cfg.Browser.Bin,
		Headless:       cfg.Browser.Headless,
		Flags:          cfg.Browser.Flags,
		PoolSize:       cfg.Browser.PoolSize,
		ConnectTimeout: int(cfg.ConnectTimeout().Seconds()),
	}, logger)

	bus := events.NewBus(logger)
	svc := patrol.NewService(patrol.Options{
		Logger:     logger,
		Tasks:      st.Tasks(),
		Executions: st.Executions(),
		Pool:       pool,
		Shots:      browser.NewCapturer(cfg.Storage.ScreenshotDir, logger),
		Visual:     visual.NewComparer(cfg.Storage.ScreenshotDir, cfg.Storage.VisualDir, logger),
		Notifier:   notify.NewWebhook(st.Tasks(), st.Executions(), logger),
		Events:     bus,
	})

	return &engine{cfg: cfg, store: st, bus: bus, pool: pool, svc: svc}, nil
}

func (e *engine) close() {
	e.svc.Wait()
	e.pool.Close()
	e.bus.Close()
	if err := e.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	sched := schedule.NewScheduler(eng.svc, eng.store.Tasks(), logger)
	if err := sched.Start(cmd.Context()); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(eng.svc, sched, eng.bus, logger)
	httpSrv := &http.Server{
		Addr:    eng.cfg.Server.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", zap.String("addr", eng.cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	taskID, err := resolveRunTask(cmd.Context(), eng, args)
	if err != nil {
		return err
	}

	execID, err := eng.svc.ExecutePatrol(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	logger.Info("patrol started", zap.String("execution_id", execID))
	eng.svc.Wait()

	exec, err := eng.svc.GetExecutionDetail(cmd.Context(), execID)
	if err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("execution %s disappeared", execID)
	}

	fmt.Printf("execution %s: %s (%d passed, %d failed of %d)\n",
		exec.ID, exec.Status, exec.PassedURLs, exec.FailedURLs, exec.TotalURLs)
	for _, res := range exec.Results {
		mark := "PASS"
		if res.Status == patrol.StatusFail {
			mark = "FAIL"
		}
		line := fmt.Sprintf("  [%s] %s", mark, res.URL)
		if res.Device != nil {
			line += fmt.Sprintf(" (%s)", res.Device.Name)
		}
		if res.ErrorMessage != "" {
			line += " - " + res.ErrorMessage
		}
		fmt.Println(line)
	}
	if exec.Status == patrol.ExecutionFailed {
		return fmt.Errorf("patrol failed: %s", exec.ErrorMessage)
	}
	if exec.FailedURLs > 0 {
		return fmt.Errorf("%d of %d checks failed", exec.FailedURLs, exec.TotalURLs)
	}
	return nil
}

// resolveRunTask returns the task id to execute: the positional id, or
// a task registered from the --file YAML definition.
func resolveRunTask(ctx context.Context, eng *engine, args []string) (string, error) {
	if taskFile == "" {
		if len(args) != 1 {
			return "", fmt.Errorf("provide a task id or --file")
		}
		return args[0], nil
	}
	if len(args) != 0 {
		return "", fmt.Errorf("provide either a task id or --file, not both")
	}

	data, err := os.ReadFile(taskFile)
	if err != nil {
		return "", fmt.Errorf("read task file: %w", err)
	}
	var task patrol.Task
	if err := yaml.Unmarshal(data, &task); err != nil {
		return "", fmt.Errorf("parse task file: %w", err)
	}
	task.Enabled = true
	created, err := eng.svc.CreateTask(ctx, &task)
	if err != nil {
		return "", err
	}
	logger.Info("task registered from file",
		zap.String("task_id", created.ID),
		zap.String("name", created.Name))
	return created.ID, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
