package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/ogulcanaydogan/qmeter/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Process exit codes.
const (
	ExitOK      = 0 // Rows and no errors
	ExitPartial = 1 // Rows and at least one source error, or a command failure
	ExitUsage   = 2 // Bad flags or arguments
	ExitNoRows  = 3 // No usable rows
)

// ExitError ends the process with Code without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// app carries global flags and the state resolved before a command runs.
type app struct {
	stdout io.Writer
	stderr io.Writer

	settingsPath string
	envFile      string
	debug        bool

	started  bool
	env      config.Env
	settings *config.Settings
	logger   *slog.Logger
}

func (a *app) rootCmd() *cobra.Command {
	opts := statusOptions{view: "table", providers: "all"}

	cmd := &cobra.Command{
		Use:   "qmeter",
		Short: "Unified usage and reset status for Claude Code and Codex",
		Long: `qmeter reads the usage windows of the claude and codex CLIs, normalizes them
into one table, caches the result between runs and can watch them in the
background, raising notifications when a window crosses a threshold.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStatus(cmd.Context(), opts)
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&a.debug, "debug", false, "print debug diagnostics (no secrets)")
	pf.StringVar(&a.settingsPath, "settings", "", "settings file (default: $USAGE_STATUS_SETTINGS_PATH or the user config dir)")
	pf.StringVar(&a.envFile, "env-file", "", "load environment variables from a dotenv file")

	f := cmd.Flags()
	f.BoolVar(&opts.json, "json", false, "print machine-readable JSON")
	f.BoolVar(&opts.refresh, "refresh", false, "bypass the cache")
	f.StringVar(&opts.view, "view", opts.view, "view mode: table, graph")
	f.StringVar(&opts.providers, "providers", opts.providers, "providers to query: claude,codex,all")

	cmd.AddCommand(
		a.watchCmd(),
		a.cacheCmd(),
		a.stateCmd(),
		a.settingsCmd(),
		versionCmd(),
	)
	return cmd
}

// setup resolves environment, settings and logging once per invocation.
func (a *app) setup() error {
	if a.started {
		return nil
	}
	a.started = true

	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	a.env = config.LoadEnv()
	if a.settingsPath == "" {
		a.settingsPath = a.env.SettingsPath
	}

	settings, settingsErr := config.Load(a.settingsPath)
	a.settings = settings

	level := settings.Logging.Level
	if a.env.LogLevel != "" {
		level = a.env.LogLevel
	}
	if a.debug {
		level = "debug"
	}
	a.logger = newLogger(a.stderr, level, settings.Logging.Format)
	slog.SetDefault(a.logger)

	if settingsErr != nil {
		a.logger.Warn("settings ignored, using defaults", "path", a.settingsPath, "error", settingsErr)
	}
	return nil
}

// newLogger creates a structured logger writing to w.
func newLogger(w io.Writer, levelName, format string) *slog.Logger {
	level := slog.LevelInfo
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// Run executes the command tree with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitOK
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}

	var usage *usageError
	if errors.As(err, &usage) || !a.started {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", err, cmd.UsageString())
		return ExitUsage
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitPartial
}

// Execute runs the CLI against the process arguments.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
