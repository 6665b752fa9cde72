// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/procsh/procsh/internal/alias"
)

// ErrMissingOperand is returned when a utility needs an operand.
var ErrMissingOperand = errors.New("missing operand")

var all = map[string]alias.StreamsFunc{
	"basename": basename,
	"cut":      cut,
	"dirname":  dirname,
	"head":     head,
	"seq":      seq,
	"sleep":    sleep,
	"sort":     sortLines,
	"tail":     tail,
	"tee":      tee,
	"tr":       tr,
	"uniq":     uniq,
	"wc":       wc,
}

// Register adds every utility to r. It panics if a name is taken.
func Register(r *alias.Registry) {
	for _, name := range Names() {
		r.Register(alias.NewWithStreams(name, all[name]))
	}
}

// Names returns the utility names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(all))
}

// flags returns a flag set for the utility name that reports unknown
// flags as errors.
func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

// parse parses args and returns the operands. A negative number that is
// not the value of a preceding flag ends the options, so "seq 3 -1 1"
// keeps its operands.
func parse(fs *pflag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(numericOperands(fs, args)); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func numericOperands(fs *pflag.FlagSet, args []string) []string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return args
		case len(arg) > 1 && arg[0] == '-' && isNumber(arg):
			return slices.Concat(args[:i], []string{"--"}, args[i:])
		case takesValue(fs, arg):
			i++
		}
	}
	return args
}

// takesValue reports whether arg is a flag whose value is the next
// argument.
func takesValue(fs *pflag.FlagSet, arg string) bool {
	var f *pflag.Flag
	switch {
	case strings.HasPrefix(arg, "--") && !strings.Contains(arg, "="):
		f = fs.Lookup(arg[2:])
	case len(arg) == 2 && arg[0] == '-' && arg[1] != '-':
		f = fs.ShorthandLookup(arg[1:])
	}
	return f != nil && f.NoOptDefVal == ""
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// eachInput calls fn for every file operand, or once for stdin when there
// are none. name is "-" for stdin.
func eachInput(files []string, s alias.Streams, fn func(r io.Reader, name string, index int) error) error {
	if len(files) == 0 {
		return fn(s.Stdin, "-", 0)
	}
	for i, file := range files {
		if err := withFile(file, s, func(r io.Reader) error { return fn(r, file, i) }); err != nil {
			return err
		}
	}
	return nil
}

func withFile(file string, s alias.Streams, fn func(io.Reader) error) (err error) {
	if file == "-" {
		return fn(s.Stdin)
	}
	f, err := os.Open(resolve(s.Dir, file))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(f)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// header prints the "==> name <==" separator used by head and tail.
func header(w io.Writer, name string, index int) {
	if index > 0 {
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintf(w, "==> %s <==\n", name)
}
