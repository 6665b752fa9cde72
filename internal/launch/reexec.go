// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"fmt"
	"os"

	"github.com/procsh/procsh/internal/alias"
)

// ExecBlockCommand is the hidden subcommand path that runs an exec block in
// a child process.
var ExecBlockCommand = []string{"internal", "exec-block"}

// reexecArgv writes the block source to a temporary file and returns the
// argv that runs it through exe, plus a cleanup that removes the file.
func reexecArgv(exe string, b *alias.Block, args []string, dir string) (argv []string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "procsh-block-*.sh")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	cleanup = func() { _ = os.Remove(path) }

	if _, err := f.WriteString(b.Source()); err != nil {
		_ = f.Close()
		cleanup()
		return nil, nil, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to write script file: %w", err)
	}

	argv = append([]string{exe}, ExecBlockCommand...)
	argv = append(argv, "--name", b.Name(), "--script-file", path)
	if dir != "" {
		argv = append(argv, "--workdir", dir)
	}
	argv = append(argv, "--")
	argv = append(argv, args...)
	return argv, cleanup, nil
}
