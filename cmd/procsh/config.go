// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/predict"
)

// Output formats of `config show`.
const (
	formatText = "text"
	formatCUE  = "cue"
	formatTOML = "toml"
)

// newConfigCommand creates the `procsh config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage procsh configuration",
		Long: `Manage procsh configuration.

Configuration is stored in:
  - Linux: ~/.config/procsh/config.cue
  - macOS: ~/Library/Application Support/procsh/config.cue

Every key can be overridden by a PROCSH_ environment variable, for
example PROCSH_RETURN_POLICY=pipefail.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(app.stdout, app.cfg, app.cfgPath, format)
		},
	}
	show.Flags().StringVar(&format, "format", formatText, "output format: text, cue or toml")
	cfgCmd.AddCommand(show)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return classifyError(err, app.verbose)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", dir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config, path, format string) error {
	switch format {
	case formatCUE:
		fmt.Fprint(w, config.GenerateCUE(cfg))
		return nil
	case formatTOML:
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		_, err = w.Write(out)
		return err
	case formatText:
		writeConfigText(w, cfg, path)
		return nil
	default:
		return fmt.Errorf("unknown format %q (valid: %s)", format, strings.Join([]string{formatText, formatCUE, formatTOML}, ", "))
	}
}

func writeConfigText(w io.Writer, cfg *config.Config, path string) {
	key, value := CmdStyle, SuccessStyle

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path == "" {
		fmt.Fprintf(w, "%s: %s\n", key.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", key.Render("Config file"), path)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", key.Render("encoding"), value.Render(cfg.Encoding))
	fmt.Fprintf(w, "%s: %s\n", key.Render("line_buffer"), value.Render(fmt.Sprint(cfg.LineBuffer)))
	fmt.Fprintf(w, "%s: %s\n", key.Render("return_policy"), value.Render(string(cfg.ReturnPolicy)))
	fmt.Fprintf(w, "%s: %s\n", key.Render("fail_fast"), value.Render(fmt.Sprint(cfg.FailFast)))
	fmt.Fprintf(w, "%s: %s\n", key.Render("interrupt_grace"), value.Render(string(cfg.InterruptGrace)))
	fmt.Fprintf(w, "%s: %s\n", key.Render("max_threads"), value.Render(fmt.Sprint(cfg.MaxThreads)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key.Render("predictors"))
	if len(cfg.Predictors) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render(fmt.Sprintf("(built-in table, %d commands)", len(predict.DefaultTable()))))
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Predictors)) {
		fmt.Fprintf(w, "  %s: %s\n", name, value.Render(cfg.Predictors[name]))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key.Render("aliases"))
	if len(cfg.Aliases) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Aliases)) {
		a := cfg.Aliases[name]
		if a.IsBlock() {
			fmt.Fprintf(w, "  %s: %s\n", name, value.Render("exec block"))
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", name, value.Render(strings.Join(a.Argv, " ")))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key.Render("ui"))
	fmt.Fprintf(w, "  color_scheme: %s\n", value.Render(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(w, "  verbose: %s\n", value.Render(fmt.Sprint(cfg.UI.Verbose)))
}
