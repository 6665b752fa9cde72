// SPDX-License-Identifier: MPL-2.0

package predict

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/procsh/procsh/internal/spec"
)

const (
	// DefaultScanTimeout bounds the time spent scanning one binary.
	DefaultScanTimeout = 100 * time.Millisecond

	scanBlockSize = 2048
)

type (
	// Options configures a Predictor.
	Options struct {
		// Table is the policy table; nil means DefaultTable().
		Table Table
		// ScanTimeout bounds binary inspection; zero means DefaultScanTimeout.
		ScanTimeout time.Duration
		// LookPath resolves bare command names; nil means exec.LookPath.
		LookPath func(string) (string, error)
		// Logger receives debug output; nil means log.Default().
		Logger *log.Logger
	}

	// Predictor evaluates policies and caches binary scans. It is safe for
	// concurrent use.
	Predictor struct {
		table    Table
		timeout  time.Duration
		lookPath func(string) (string, error)
		logger   *log.Logger

		mu    sync.RWMutex
		cache map[string]Decision
	}
)

// signatures lists the byte groups that mark a binary as terminal-bound.
// A group matches when all of its members occur.
var signatures = [][][]byte{
	{[]byte("ncurses")},
	{[]byte("libgpm")},
	{[]byte("isatty"), []byte("tcgetattr"), []byte("tcsetattr")},
}

// New creates a Predictor.
func New(opts Options) *Predictor {
	p := &Predictor{
		table:    opts.Table,
		timeout:  opts.ScanTimeout,
		lookPath: opts.LookPath,
		logger:   opts.Logger,
		cache:    make(map[string]Decision),
	}
	if p.table == nil {
		p.table = DefaultTable()
	}
	if p.timeout <= 0 {
		p.timeout = DefaultScanTimeout
	}
	if p.lookPath == nil {
		p.lookPath = exec.LookPath
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

// Predict decides for a resolved spec. Callable aliases marked unthreadable
// must process; other aliases follow the table and otherwise may thread.
// External binaries follow the table and otherwise have their resolved path
// inspected.
func (p *Predictor) Predict(s *spec.CommandSpec) Decision {
	name := commandName(s.Name())
	args := []string{}
	if len(s.Argv) > 1 {
		args = s.Argv[1:]
	}

	switch s.Exec.Kind {
	case spec.CallableAlias:
		if !s.Exec.Callable.Threadable() {
			return MustProcess
		}
		if pol, ok := p.table[name]; ok && pol.Kind != InspectBinary {
			return p.apply(pol, args, "")
		}
		return MayThread
	case spec.ExecBlockAlias:
		if pol, ok := p.table[name]; ok && pol.Kind != InspectBinary {
			return p.apply(pol, args, "")
		}
		return MayThread
	default:
		if pol, ok := p.table[name]; ok {
			return p.apply(pol, args, s.Exec.Path)
		}
		return p.Inspect(s.Exec.Path)
	}
}

// PredictArgv decides for an unresolved argument vector, resolving argv[0]
// through LookPath when no policy is registered.
func (p *Predictor) PredictArgv(argv []string) Decision {
	if len(argv) == 0 {
		return MayThread
	}
	if pol, ok := p.table[commandName(argv[0])]; ok {
		return p.apply(pol, argv[1:], "")
	}
	return p.Inspect(p.resolve(argv[0]))
}

func (p *Predictor) apply(pol Policy, args []string, path string) Decision {
	switch pol.Kind {
	case AlwaysThread:
		return MayThread
	case NeverThread:
		return MustProcess
	case InspectBinary:
		return p.Inspect(path)
	default:
		if pol.Func == nil {
			return MayThread
		}
		return pol.Func(args, p)
	}
}

func (p *Predictor) resolve(cmd string) string {
	if strings.ContainsRune(cmd, os.PathSeparator) {
		return cmd
	}
	path, err := p.lookPath(cmd)
	if err != nil {
		return ""
	}
	return path
}

// Inspect scans the binary at path. A missing or unreadable file must
// process; a scan that runs out of time may thread. Results are cached.
func (p *Predictor) Inspect(path string) Decision {
	if path == "" {
		return MustProcess
	}

	p.mu.RLock()
	d, ok := p.cache[path]
	p.mu.RUnlock()
	if ok {
		return d
	}

	d = p.scan(path)
	p.logger.Debug("inspected binary", "path", path, "decision", d)

	p.mu.Lock()
	p.cache[path] = d
	p.mu.Unlock()
	return d
}

func (p *Predictor) scan(path string) Decision {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return MustProcess
	}
	// NixOS links core tools to one multi-call coreutils binary.
	if target, err := filepath.EvalSymlinks(path); err == nil && target != path &&
		strings.HasSuffix(target, "coreutils") {
		return MayThread
	}

	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return MustProcess
	}
	defer func() { _ = f.Close() }()

	found := make([][]bool, len(signatures))
	for i, group := range signatures {
		found[i] = make([]bool, len(group))
	}

	deadline := time.Now().Add(p.timeout)
	buf := make([]byte, scanBlockSize)
	var prev []byte
	for time.Now().Before(deadline) {
		n, err := f.Read(buf)
		if n > 0 {
			// Keep the previous block so signatures spanning a boundary match.
			window := append(prev, buf[:n]...)
			if matchSignatures(window, found) {
				return MustProcess
			}
			prev = append(prev[:0], buf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			return MayThread
		}
		if err != nil {
			return MustProcess
		}
	}
	return MayThread
}

func matchSignatures(window []byte, found [][]bool) bool {
	for i, group := range signatures {
		all := true
		for j, sig := range group {
			if !found[i][j] && bytes.Contains(window, sig) {
				found[i][j] = true
			}
			all = all && found[i][j]
		}
		if all {
			return true
		}
	}
	return false
}

// commandName strips directories and a Windows-style extension from cmd.
func commandName(cmd string) string {
	name := filepath.Base(cmd)
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".exe") {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
