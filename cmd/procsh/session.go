// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/subosito/gotenv"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/alias/builtin"
	"github.com/procsh/procsh/internal/cmdline"
	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/issue"
	"github.com/procsh/procsh/internal/jobs"
	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/pipeline"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

type (
	// sessionOptions are the per-invocation inputs that are not part of the
	// configuration file.
	sessionOptions struct {
		Capture  spec.CaptureMode
		Pipefail bool
		EnvFiles []string
		// Stdin, Stdout and Stderr are inherited by uncaptured stages when
		// they are files; other streams leave the process streams in place.
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// TTY is handed to foreground pipelines; nil disables handoff.
		TTY *os.File
		// TermOutput receives the output of pseudo-terminal stages.
		TermOutput io.Writer
		// Jobs, when set, backs the job-control builtins.
		Jobs *jobs.Table
		// Foreground, when set, tracks foreground pipelines that own the
		// terminal without exposing the job-control builtins.
		Foreground *jobs.Table
	}

	// session is the execution core assembled from the configuration.
	session struct {
		registry    *alias.Registry
		predictor   *predict.Predictor
		coordinator *pipeline.Coordinator
		parser      *cmdline.Parser
		foreground  *jobs.Table
		logger      *log.Logger
	}
)

// newSession wires the predictor, launcher, coordinator and command-line
// parser from cfg. Configuration problems come back as actionable errors.
func newSession(cfg *config.Config, logger *log.Logger, opts sessionOptions) (*session, error) {
	registry := alias.NewRegistry()
	builtin.Register(registry)
	if opts.Jobs != nil {
		registerJobBuiltins(registry, opts.Jobs)
	}
	if err := registerAliases(registry, cfg.Aliases); err != nil {
		return nil, err
	}

	table := predict.DefaultTable()
	if err := table.Override(cfg.Predictors); err != nil {
		return nil, configError(err, "predictors")
	}
	predictor := predict.New(predict.Options{Table: table, Logger: logger})

	grace, err := cfg.InterruptGrace.Duration()
	if err != nil {
		return nil, configError(err, "interrupt_grace")
	}

	exe, err := os.Executable()
	if err != nil {
		logger.Debug("cannot locate own executable; exec blocks will run in-process", "err", err)
		exe = ""
	}
	launcher := launch.New(launch.Options{MaxThreads: int64(cfg.MaxThreads), ReExec: exe, Logger: logger})

	policy := pipeline.ReturnPolicy(cfg.ReturnPolicy)
	if opts.Pipefail {
		policy = pipeline.ReturnPipefail
	}
	plumber := plumbing.New(plumbing.Options{
		Stdin:  fileOf(opts.Stdin),
		Stdout: fileOf(opts.Stdout),
		Stderr: fileOf(opts.Stderr),
		Logger: logger,
	})
	coordinator, err := pipeline.New(pipeline.Options{
		Predictor:      predictor,
		Plumber:        plumber,
		Launcher:       launcher,
		Encoding:       cfg.Encoding,
		LineBuffer:     cfg.LineBuffer,
		ReturnPolicy:   policy,
		FailFast:       cfg.FailFast,
		InterruptGrace: grace,
		TermOutput:     opts.TermOutput,
		ControllingTTY: opts.TTY,
		Logger:         logger,
	})
	if errors.Is(err, pipeline.ErrUnknownEncoding) {
		return nil, issue.NewErrorContext().
			WithOperation("apply configuration").
			WithResource("encoding").
			WithSuggestion("Use a WHATWG encoding label such as utf-8 or latin1").
			WithIssue(issue.UnknownEncodingId).
			Wrap(err).
			BuildError()
	}
	if err != nil {
		return nil, configError(err, "return_policy")
	}

	env, err := loadEnvFiles(opts.EnvFiles)
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	return &session{
		registry:    registry,
		predictor:   predictor,
		coordinator: coordinator,
		parser:      cmdline.New(cmdline.Options{Aliases: registry, Env: env, Dir: wd, Capture: opts.Capture}),
		foreground:  opts.Foreground,
		logger:      logger,
	}, nil
}

// fileOf returns the file behind s, or nil when s is not one.
func fileOf(s any) *os.File {
	f, _ := s.(*os.File)
	return f
}

// controllingTerminal returns the terminal behind in when it is the
// process's controlling terminal.
func controllingTerminal(in io.Reader) (*jobs.TTY, *os.File) {
	f := fileOf(in)
	if f == nil {
		return nil, nil
	}
	tty, ok := jobs.OpenTTY(int(f.Fd()))
	if !ok {
		return nil, nil
	}
	if _, err := tty.ForegroundGroup(); err != nil {
		return nil, nil
	}
	return tty, f
}

// registerAliases adds the configured aliases in name order.
func registerAliases(r *alias.Registry, aliases map[string]config.AliasConfig) error {
	for _, name := range slices.Sorted(maps.Keys(aliases)) {
		a := aliases[name]
		var err error
		if a.IsBlock() {
			_, err = r.RegisterBlock(name, a.ExecBlock)
		} else {
			err = r.RegisterArgv(name, a.Argv)
		}
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("register alias").
				WithResource(name).
				WithSuggestion("Alias names must not collide with the builtins: " + strings.Join(builtin.Names(), ", ")).
				WithSuggestion("Check the exec_block source with 'sh -n'").
				WithIssue(issue.InvalidAliasId).
				Wrap(err).
				BuildError()
		}
	}
	return nil
}

// loadEnvFiles returns the host environment overlaid with the dotenv files
// in order, or nil when there are none.
func loadEnvFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	env := os.Environ()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, issue.WrapWithContext(err, "read env file", path)
		}
		vars, err := gotenv.StrictParse(f)
		_ = f.Close()
		if err != nil {
			return nil, issue.WrapWithContext(err, "parse env file", path)
		}
		for _, k := range slices.Sorted(maps.Keys(vars)) {
			env = append(env, k+"="+vars[k])
		}
	}
	return env, nil
}

func configError(err error, field string) error {
	return issue.NewErrorContext().
		WithOperation("apply configuration").
		WithResource(field).
		WithSuggestion("Run 'procsh config show' to inspect the effective configuration").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}
