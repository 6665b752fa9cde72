// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/procsh/procsh/internal/alias"
)

// seq prints a sequence of numbers: seq [-w] [-s SEP] [FIRST [INCR]] LAST.
func seq(ctx context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("seq")
	separator := fs.StringP("separator", "s", "\n", "separator")
	equalWidth := fs.BoolP("equal-width", "w", false, "pad with leading zeroes")
	operands, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	first, incr := 1.0, 1.0
	var last float64
	switch len(operands) {
	case 0:
		return alias.Result{}, ErrMissingOperand
	case 1:
		last, err = strconv.ParseFloat(operands[0], 64)
	case 2:
		if first, err = strconv.ParseFloat(operands[0], 64); err == nil {
			last, err = strconv.ParseFloat(operands[1], 64)
		}
	default:
		if first, err = strconv.ParseFloat(operands[0], 64); err == nil {
			if incr, err = strconv.ParseFloat(operands[1], 64); err == nil {
				last, err = strconv.ParseFloat(operands[2], 64)
			}
		}
	}
	if err != nil {
		return alias.Result{}, fmt.Errorf("invalid floating point argument: %w", err)
	}
	if incr == 0 {
		return alias.Result{}, fmt.Errorf("increment must not be zero")
	}

	width := 0
	if *equalWidth {
		width = max(len(formatNumber(first)), len(formatNumber(last)))
	}

	w := bufio.NewWriter(s.Stdout)
	count := 0
	// The tolerance keeps float drift from dropping the final value.
	for n := first; incr > 0 && n <= last+1e-9 || incr < 0 && n >= last-1e-9; n += incr {
		if err := ctx.Err(); err != nil {
			_ = w.Flush()
			return alias.Result{}, err
		}
		text := formatNumber(math.Round(n*1e9) / 1e9)
		if pad := width - len(text); pad > 0 {
			text = strings.Repeat("0", pad) + text
		}
		if count > 0 {
			_, _ = w.WriteString(*separator)
		}
		_, _ = w.WriteString(text)
		count++
	}
	if count > 0 {
		_ = w.WriteByte('\n')
	}
	return alias.Result{}, w.Flush()
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// sleep pauses for the sum of its operands. Operands are seconds, optionally
// suffixed with s, m, h or d.
func sleep(ctx context.Context, args []string, _ alias.Streams) (alias.Result, error) {
	if len(args) == 0 {
		return alias.Result{}, ErrMissingOperand
	}
	var total time.Duration
	for _, arg := range args {
		d, err := parseInterval(arg)
		if err != nil {
			return alias.Result{}, err
		}
		total += d
	}

	timer := time.NewTimer(total)
	defer timer.Stop()
	select {
	case <-timer.C:
		return alias.Result{}, nil
	case <-ctx.Done():
		return alias.Result{}, ctx.Err()
	}
}

func parseInterval(arg string) (time.Duration, error) {
	unit := time.Second
	num := arg
	switch {
	case strings.HasSuffix(arg, "s"):
		num = strings.TrimSuffix(arg, "s")
	case strings.HasSuffix(arg, "m"):
		num, unit = strings.TrimSuffix(arg, "m"), time.Minute
	case strings.HasSuffix(arg, "h"):
		num, unit = strings.TrimSuffix(arg, "h"), time.Hour
	case strings.HasSuffix(arg, "d"):
		num, unit = strings.TrimSuffix(arg, "d"), 24*time.Hour
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid time interval %q", arg)
	}
	return time.Duration(f * float64(unit)), nil
}

// basename strips directory and optional suffix from a path.
func basename(_ context.Context, args []string, _ alias.Streams) (alias.Result, error) {
	if len(args) == 0 {
		return alias.Result{}, ErrMissingOperand
	}
	base := path.Base(args[0])
	if len(args) > 1 && base != args[1] {
		base = strings.TrimSuffix(base, args[1])
	}
	return alias.Result{Stdout: base + "\n"}, nil
}

// dirname prints each operand with its last element removed.
func dirname(_ context.Context, args []string, _ alias.Streams) (alias.Result, error) {
	if len(args) == 0 {
		return alias.Result{}, ErrMissingOperand
	}
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(path.Dir(arg))
		b.WriteByte('\n')
	}
	return alias.Result{Stdout: b.String()}, nil
}

func openOutput(name string, appendMode bool) (*os.File, error) {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	return os.OpenFile(name, flag, 0o644)
}
