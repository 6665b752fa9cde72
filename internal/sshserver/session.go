// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/creack/pty"
)

// sessionMiddleware runs procsh for every session.
func (s *Server) sessionMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			ptyReq, winCh, isPty := sess.Pty()
			argv := s.childArgv(sess.Command())
			s.logger.Debug("session started", "user", sess.User(), "remote", sess.RemoteAddr(), "pty", isPty, "argv", argv)

			cmd := exec.CommandContext(sess.Context(), argv[0], argv[1:]...)
			cmd.Env = sessionEnv(os.Environ(), sess.Environ(), ptyReq.Term, isPty)

			var code int
			switch {
			case isPty:
				code = s.runPTY(sess, cmd, ptyReq.Window, winCh)
			case len(sess.Command()) == 0:
				wish.Fatalln(sess, "procsh: an interactive session needs a terminal (ssh -t)")
				return
			default:
				code = s.runPiped(sess, cmd)
			}
			s.logger.Debug("session ended", "user", sess.User(), "code", code)
			_ = sess.Exit(code)
			next(sess)
		}
	}
}

// childArgv returns the procsh invocation for a session command: shell
// when there is none, run otherwise.
func (s *Server) childArgv(command []string) []string {
	argv := append([]string{s.cfg.Executable}, s.cfg.ExtraArgs...)
	if len(command) == 0 {
		return append(argv, "shell")
	}
	return append(argv, "run", "--", strings.Join(command, " "))
}

// sessionEnv layers the client's environment over the server's.
func sessionEnv(base, client []string, term string, isPty bool) []string {
	env := append(append([]string(nil), base...), client...)
	if isPty && term != "" {
		env = append(env, "TERM="+term)
	}
	return env
}

// runPTY runs cmd on a new pseudo-terminal sized to the client's window.
func (s *Server) runPTY(sess ssh.Session, cmd *exec.Cmd, win ssh.Window, winCh <-chan ssh.Window) int {
	f, err := pty.StartWithSize(cmd, winsize(win))
	if err != nil {
		wish.Errorf(sess, "procsh: failed to start shell: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()

	go func() {
		for w := range winCh {
			if err := pty.Setsize(f, winsize(w)); err != nil {
				s.logger.Debug("failed to resize pty", "err", err)
			}
		}
	}()
	go func() { _, _ = io.Copy(f, sess) }()
	_, _ = io.Copy(sess, f)

	return exitCode(cmd.Wait())
}

// runPiped runs cmd with the session's streams.
func (s *Server) runPiped(sess ssh.Session, cmd *exec.Cmd) int {
	cmd.Stdin = sess
	cmd.Stdout = sess
	cmd.Stderr = sess.Stderr()
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		_, _ = fmt.Fprintf(sess.Stderr(), "procsh: %v\n", err)
	}
	return exitCode(err)
}

func winsize(w ssh.Window) *pty.Winsize {
	return &pty.Winsize{Rows: uint16(w.Height), Cols: uint16(w.Width)}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 1
}
