// Package cmd wires the CLI surface of the supervisor.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/taskmaster/internal/config"
	"github.com/smazurov/taskmaster/internal/control"
	"github.com/smazurov/taskmaster/internal/events"
	"github.com/smazurov/taskmaster/internal/logging"
	"github.com/smazurov/taskmaster/internal/metrics"
	"github.com/smazurov/taskmaster/internal/supervisor"
	"github.com/smazurov/taskmaster/internal/systemd"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitParse    = 1
	ExitSemantic = 2
	ExitFatal    = 3
)

var (
	opts       config.Options
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster",
	Short: "Supervise long-running processes from a declarative config",
	Long: `taskmaster launches the programs described in a YAML configuration
file, keeps them in their intended run-state, and exposes an interactive
shell for status, start/stop/restart, and configuration reload.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(run(cmd))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "file", "f", "", "Path to the program configuration file (required)")
	_ = rootCmd.MarkFlagRequired("file")

	rootCmd.PersistentFlags().StringVar(&opts.Settings, "settings", "taskmaster.toml", "Path to supervisor settings file")
	rootCmd.Flags().StringVar(&opts.LoggingLevel, "logging-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.LoggingFormat, "logging-format", "text", "Log format (text, json)")
	rootCmd.Flags().StringVar(&opts.LoggingFile, "logging-file", "", "Rotating log file (empty logs to stderr)")
	rootCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Prometheus listener address (empty disables)")
	rootCmd.Flags().BoolVar(&opts.Watch, "watch", true, "Reload automatically when the config file changes")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitFatal)
	}
}

func run(cmd *cobra.Command) int {
	if err := config.LoadSettings(&opts, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "settings: %v\n", err)
		return ExitSemantic
	}

	logging.Initialize(logging.Config{
		Level:  opts.LoggingLevel,
		Format: opts.LoggingFormat,
		File:   opts.LoggingFile,
	})
	logger := logging.GetLogger("taskmaster")

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return configExitCode(err)
	}

	bus := events.New()
	unobserve := metrics.Observe(bus)
	defer unobserve()

	sup := supervisor.New(supervisor.Options{
		Config: cfg,
		Reload: func() (*config.Config, error) { return config.Load(configFile) },
		Bus:    bus,
		Logger: logging.GetLogger("supervisor"),
	})

	if opts.MetricsAddr != "" {
		server := metrics.NewServer(opts.MetricsAddr, logging.GetLogger("metrics"))
		server.Start()
		defer server.Stop()
	}

	if opts.Watch {
		watcher := config.NewWatcher(configFile, func() {
			go sup.Post(supervisor.CmdReload, "")
		}, logging.GetLogger("config"))
		if err := watcher.Start(); err != nil {
			logger.Warn("Config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	go handleSignals(sup, logger)

	repl := control.New(sup, os.Stdin, os.Stdout, logging.GetLogger("control"))
	go repl.Run()

	systemd.NotifyReady(logger)
	runErr := sup.Run(context.Background())
	systemd.NotifyStopping(logger)
	if runErr != nil {
		logger.Error("Supervisor failed", "error", runErr)
		return ExitFatal
	}
	return ExitOK
}

// handleSignals turns process signals into core commands: INT/TERM start
// an orderly shutdown and repeat deliveries escalate to SIGKILL, HUP is
// a reload.
func handleSignals(sup *supervisor.Supervisor, logger *slog.Logger) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	stopping := false
	for sig := range sigC {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("SIGHUP received, reloading")
			go sup.Post(supervisor.CmdReload, "")
		default:
			if stopping {
				logger.Warn("Second shutdown signal, escalating", "signal", sig.String())
				sup.Escalate()
				continue
			}
			stopping = true
			logger.Info("Shutdown signal received", "signal", sig.String())
			sup.RequestShutdown()
		}
	}
}

// configExitCode maps configuration failures onto the CLI contract:
// malformed documents exit 1, well-formed but impossible ones exit 2.
func configExitCode(err error) int {
	var parseErr *config.ParseError
	if errors.As(err, &parseErr) {
		return ExitParse
	}
	var valErr *config.ValidationError
	if errors.As(err, &valErr) {
		return ExitSemantic
	}
	return ExitFatal
}
