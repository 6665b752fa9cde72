// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
)

// Server serves procsh sessions over SSH. A Server instance is single-use:
// once stopped or failed, create a new one.
type Server struct {
	cfg    Config
	logger *log.Logger

	state atomic.Int32

	mu       sync.Mutex
	srv      *ssh.Server
	listener net.Listener
	addr     string
	lastErr  error

	wg        sync.WaitGroup
	startedCh chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	errCh     chan error
}

// New creates a server. It is not started; call Start to accept
// connections. A nil logger means log.Default().
func New(cfg Config, logger *log.Logger) (*Server, error) {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.WithPrefix("ssh"),
		startedCh: make(chan struct{}),
		stoppedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	s.state.Store(int32(StateCreated))
	return s, nil
}

// GenerateToken returns a random hex token suitable for Config.Token.
func GenerateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Start binds the listener and blocks until the server accepts
// connections, fails, or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		s.fail(fmt.Errorf("context cancelled before start: %w", err))
		return s.Err()
	}
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w in state %s", ErrNotStartable, s.State())
	}

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		s.fail(fmt.Errorf("failed to listen on %s: %w", addr, err))
		return s.Err()
	}

	srv, err := wish.NewServer(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(s.cfg.HostKeyPath),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithMiddleware(s.sessionMiddleware()),
	)
	if err != nil {
		_ = listener.Close()
		s.fail(fmt.Errorf("failed to create SSH server: %w", err))
		return s.Err()
	}

	s.mu.Lock()
	s.srv, s.listener, s.addr = srv, listener, listener.Addr().String()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serve()

	select {
	case <-s.startedCh:
		s.logger.Info("serving", "address", s.Address())
		return nil
	case err := <-s.errCh:
		s.fail(err)
		return err
	case <-startupCtx.Done():
		_ = srv.Close()
		s.fail(fmt.Errorf("startup timeout: %w", startupCtx.Err()))
		return s.Err()
	}
}

func (s *Server) serve() {
	defer s.wg.Done()
	if s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(s.startedCh)
	}

	s.mu.Lock()
	srv, listener := s.srv, s.listener
	s.mu.Unlock()

	err := srv.Serve(listener)
	if err == nil || errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return
	}
	select {
	case s.errCh <- fmt.Errorf("serve error: %w", err):
	default:
		s.logger.Error("serve error", "err", err)
	}
}

// Stop shuts the server down gracefully, waiting at most ShutdownTimeout
// for sessions to end. It is safe to call more than once.
func (s *Server) Stop() error {
	for {
		st := s.State()
		switch st {
		case StateStopped, StateFailed:
			return nil
		case StateStopping:
			<-s.stoppedCh
			return nil
		case StateCreated:
			if s.state.CompareAndSwap(int32(st), int32(StateStopped)) {
				s.markStopped()
				return nil
			}
		default:
			if s.state.CompareAndSwap(int32(st), int32(StateStopping)) {
				return s.shutdown()
			}
		}
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	srv, listener := s.srv, s.listener
	s.mu.Unlock()

	var err error
	if srv != nil {
		if err = srv.Shutdown(ctx); errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	if listener != nil {
		_ = listener.Close()
	}
	s.wg.Wait()

	s.state.Store(int32(StateStopped))
	s.markStopped()
	s.logger.Info("stopped")
	return err
}

// fail records err and moves the server to StateFailed.
func (s *Server) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.state.Store(int32(StateFailed))
	s.markStopped()
}

func (s *Server) markStopped() {
	s.stopOnce.Do(func() { close(s.stoppedCh) })
}

// State returns the current server state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Err returns the error that failed the server, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Address returns the bound host:port, or "" before a successful Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Port returns the bound port, or 0 before a successful Start.
func (s *Server) Port() int {
	_, port, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

// Wait blocks until the server stops or ctx is done. It returns the error
// that failed the server, if any.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-s.stoppedCh:
		return s.Err()
	case err := <-s.errCh:
		s.fail(err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// passwordHandler accepts the configured token as the password.
func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	ok := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Token)) == 1
	if !ok {
		s.logger.Warn("rejected password", "user", ctx.User(), "remote", ctx.RemoteAddr())
	}
	return ok
}

// publicKeyHandler rejects all public keys; only the token is accepted.
func (s *Server) publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return false
}
