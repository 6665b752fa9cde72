// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/sshserver"
)

// tokenEnv supplies the serve token when --token is not given.
const tokenEnv = "PROCSH_SSH_TOKEN"

func newServeCommand(app *App) *cobra.Command {
	cfg := sshserver.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve procsh shells over SSH",
		Long: `Accept SSH connections and run a procsh shell for each session.

Clients log in with any user name and the token as password. A session
with a command runs it like 'procsh run'; one without a command needs a
terminal and gets 'procsh shell'. The token comes from --token, then
` + tokenEnv + `, and is otherwise generated and printed at startup.`,
		Example: `  procsh serve --port 2222
  ssh -p 2222 -t localhost`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, app, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "address to listen on")
	cmd.Flags().IntVar(&cfg.Port, "port", 2222, "port to listen on (0 picks a free port)")
	cmd.Flags().StringVar(&cfg.Token, "token", "", "password clients must present")
	cmd.Flags().StringVar(&cfg.HostKeyPath, "host-key", "", "host key file, created if missing (default in the config directory)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, cfg sshserver.Config) error {
	if cfg.Token == "" {
		cfg.Token = os.Getenv(tokenEnv)
	}
	if cfg.Token == "" {
		token, err := sshserver.GenerateToken()
		if err != nil {
			return err
		}
		cfg.Token = token
		fmt.Fprintf(app.stderr, "%s %s\n", SubtitleStyle.Render("token:"), CmdStyle.Render(token))
	}
	if cfg.HostKeyPath == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		cfg.HostKeyPath = filepath.Join(dir, "ssh_host_ed25519")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.HostKeyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create host key directory: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate procsh executable: %w", err)
	}
	cfg.Executable = exe
	if app.cfgFile != "" {
		cfg.ExtraArgs = append(cfg.ExtraArgs, "--config", app.cfgFile)
	}

	srv, err := sshserver.New(cfg, app.logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(app.stderr, "%s %s\n", SuccessStyle.Render("listening on"), srv.Address())

	err = srv.Wait(ctx)
	if stopErr := srv.Stop(); stopErr != nil {
		return stopErr
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}
