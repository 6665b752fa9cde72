// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for procsh.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App carries the state shared by every command: global flags, the
	// loaded configuration and the output streams.
	App struct {
		Config config.Provider

		verbose bool
		cfgFile string
		cfgDir  string

		cfg     *config.Config
		cfgPath string
		logger  *log.Logger

		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer
	}
)

// newApp returns an App bound to the process streams.
func newApp() *App {
	return &App{
		Config: config.NewProvider(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// NewRootCommand builds the procsh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newApp())
}

func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "procsh",
		Short: "Run shell pipelines of processes and in-process aliases",
		Long: TitleStyle.Render("procsh") + SubtitleStyle.Render(" - subprocess pipelines for an interactive shell") + `

procsh runs pipelines whose stages are external programs or aliases
implemented inside the shell itself. Aliases predicted to be safe run
on worker goroutines; everything else runs as a process in the
pipeline's own process group, with job control.

` + SubtitleStyle.Render("Examples:") + `
  procsh run -- 'seq 10 | sort -r | head -n 3'
  procsh run --capture -- 'ls -l | wc -l'
  procsh predict vim README.md
  procsh shell
  procsh serve --port 2222
  procsh config show`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $HOME/.config/procsh/config.cue)")
	rootCmd.SetIn(app.stdin)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.AddCommand(
		newRunCommand(app),
		newPredictCommand(app),
		newShellCommand(app),
		newConfigCommand(app),
		newServeCommand(app),
		newInternalCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command and exits with its status. It is called by
// main.main().
func Execute() {
	app := newApp()
	err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithErrorHandler(handleError),
	)
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}

// handleError prints command errors. Service errors carry their own
// rendering and bare exit statuses print nothing.
func handleError(w io.Writer, styles fang.Styles, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(w, svcErr)
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// loadConfig reads the configuration and sets up logging. A configuration
// that fails to load is reported and replaced by the defaults, so a broken
// file never locks the user out of `config` subcommands.
func (a *App) loadConfig(ctx context.Context) error {
	cfg, path, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile, ConfigDirPath: a.cfgDir})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, a.verbose))
		cfg = config.DefaultConfig()
	}
	a.cfg, a.cfgPath = cfg, path

	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.logger = log.NewWithOptions(a.stderr, log.Options{Prefix: "procsh"})
	a.logger.SetLevel(log.WarnLevel)
	if a.verbose {
		a.logger.SetLevel(log.DebugLevel)
		a.logger.SetReportTimestamp(true)
	}
	if path != "" {
		a.logger.Debug("configuration loaded", "path", path)
	}
	return nil
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
