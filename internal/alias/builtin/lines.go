// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/procsh/procsh/internal/alias"
)

// head prints the first -n lines of each input.
func head(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("head")
	n := fs.IntP("lines", "n", 10, "number of lines")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	w := bufio.NewWriter(s.Stdout)
	err = eachInput(files, s, func(r io.Reader, name string, i int) error {
		if len(files) > 1 {
			header(w, name, i)
		}
		sc := bufio.NewScanner(r)
		for count := 0; count < *n && sc.Scan(); count++ {
			_, _ = fmt.Fprintln(w, sc.Text())
		}
		return sc.Err()
	})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return alias.Result{}, err
}

// tail prints the last -n lines of each input, or everything from line N
// when the count is written +N.
func tail(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("tail")
	spec := fs.StringP("lines", "n", "10", "number of lines, or +N to start at line N")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	fromStart := strings.HasPrefix(*spec, "+")
	n, err := strconv.Atoi(strings.TrimPrefix(*spec, "+"))
	if err != nil || n < 0 {
		return alias.Result{}, fmt.Errorf("invalid number of lines: %q", *spec)
	}

	w := bufio.NewWriter(s.Stdout)
	err = eachInput(files, s, func(r io.Reader, name string, i int) error {
		if len(files) > 1 {
			header(w, name, i)
		}
		sc := bufio.NewScanner(r)
		if fromStart {
			for line := 1; sc.Scan(); line++ {
				if line >= n {
					_, _ = fmt.Fprintln(w, sc.Text())
				}
			}
			return sc.Err()
		}
		var ring []string
		for sc.Scan() {
			if n == 0 {
				continue
			}
			if len(ring) == n {
				ring = ring[1:]
			}
			ring = append(ring, sc.Text())
		}
		for _, line := range ring {
			_, _ = fmt.Fprintln(w, line)
		}
		return sc.Err()
	})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return alias.Result{}, err
}

// uniq collapses adjacent duplicate lines.
func uniq(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("uniq")
	count := fs.BoolP("count", "c", false, "prefix lines with their count")
	dupsOnly := fs.BoolP("repeated", "d", false, "only print duplicated lines")
	uniqOnly := fs.BoolP("unique", "u", false, "only print unique lines")
	fold := fs.BoolP("ignore-case", "i", false, "ignore case")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	var input []string
	if len(files) > 0 {
		input = files[:1]
	}

	w := bufio.NewWriter(s.Stdout)
	emit := func(line string, n int) {
		switch {
		case *dupsOnly && n < 2, *uniqOnly && n > 1:
			return
		case *count:
			_, _ = fmt.Fprintf(w, "%7d %s\n", n, line)
		default:
			_, _ = fmt.Fprintln(w, line)
		}
	}
	same := func(a, b string) bool {
		if *fold {
			return strings.EqualFold(a, b)
		}
		return a == b
	}

	err = eachInput(input, s, func(r io.Reader, _ string, _ int) error {
		sc := bufio.NewScanner(r)
		var prev string
		n := 0
		for sc.Scan() {
			line := sc.Text()
			if n > 0 && same(line, prev) {
				n++
				continue
			}
			if n > 0 {
				emit(prev, n)
			}
			prev, n = line, 1
		}
		if n > 0 {
			emit(prev, n)
		}
		return sc.Err()
	})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return alias.Result{}, err
}

// sortLines sorts the lines of all inputs together.
func sortLines(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("sort")
	reverse := fs.BoolP("reverse", "r", false, "reverse the result")
	numeric := fs.BoolP("numeric-sort", "n", false, "compare numerically")
	unique := fs.BoolP("unique", "u", false, "output only the first of equal lines")
	fold := fs.BoolP("ignore-case", "f", false, "fold lower case to upper case")
	blanks := fs.BoolP("ignore-leading-blanks", "b", false, "ignore leading blanks")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	var lines []string
	err = eachInput(files, s, func(r io.Reader, _ string, _ int) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		return sc.Err()
	})
	if err != nil {
		return alias.Result{}, err
	}

	key := func(line string) string {
		if *blanks {
			line = strings.TrimLeft(line, " \t")
		}
		if *fold {
			line = strings.ToUpper(line)
		}
		return line
	}
	compare := func(a, b string) int {
		ka, kb := key(a), key(b)
		if *numeric {
			if c := cmp.Compare(leadingNumber(ka), leadingNumber(kb)); c != 0 {
				return c
			}
		}
		return strings.Compare(ka, kb)
	}
	slices.SortStableFunc(lines, compare)
	if *reverse {
		slices.Reverse(lines)
	}
	if *unique {
		lines = slices.CompactFunc(lines, func(a, b string) bool { return compare(a, b) == 0 })
	}

	w := bufio.NewWriter(s.Stdout)
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return alias.Result{}, w.Flush()
}

// leadingNumber parses the numeric prefix of s the way sort -n does; lines
// without one sort as zero.
func leadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || end == 0 && s[end] == '-') {
		end++
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}

// cut prints selected fields (-f) or characters (-c) of each line.
func cut(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("cut")
	delim := fs.StringP("delimiter", "d", "\t", "field delimiter")
	fieldList := fs.StringP("fields", "f", "", "fields to select")
	charList := fs.StringP("characters", "c", "", "characters to select")
	onlyDelimited := fs.BoolP("only-delimited", "s", false, "skip lines without delimiters")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	list := *fieldList
	if list == "" {
		list = *charList
	}
	if list == "" {
		return alias.Result{}, fmt.Errorf("you must specify a list of fields or characters")
	}
	sel, err := parseList(list)
	if err != nil {
		return alias.Result{}, err
	}

	w := bufio.NewWriter(s.Stdout)
	err = eachInput(files, s, func(r io.Reader, _ string, _ int) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			if *fieldList == "" {
				runes := []rune(line)
				var b strings.Builder
				for i, rn := range runes {
					if sel(i + 1) {
						b.WriteRune(rn)
					}
				}
				_, _ = fmt.Fprintln(w, b.String())
				continue
			}
			if !strings.Contains(line, *delim) {
				if !*onlyDelimited {
					_, _ = fmt.Fprintln(w, line)
				}
				continue
			}
			var out []string
			for i, f := range strings.Split(line, *delim) {
				if sel(i + 1) {
					out = append(out, f)
				}
			}
			_, _ = fmt.Fprintln(w, strings.Join(out, *delim))
		}
		return sc.Err()
	})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return alias.Result{}, err
}

// parseList parses a cut list such as "1,3-4,6-" into a membership test.
func parseList(list string) (func(int) bool, error) {
	type span struct{ lo, hi int }
	var spans []span
	for part := range strings.SplitSeq(list, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		sp := span{lo: 1, hi: int(^uint(0) >> 1)}
		var err error
		if lo != "" {
			if sp.lo, err = strconv.Atoi(lo); err != nil || sp.lo < 1 {
				return nil, fmt.Errorf("invalid list value: %q", part)
			}
		}
		switch {
		case !isRange:
			sp.hi = sp.lo
		case hi != "":
			if sp.hi, err = strconv.Atoi(hi); err != nil || sp.hi < sp.lo {
				return nil, fmt.Errorf("invalid list value: %q", part)
			}
		}
		spans = append(spans, sp)
	}
	return func(n int) bool {
		return slices.ContainsFunc(spans, func(sp span) bool { return n >= sp.lo && n <= sp.hi })
	}, nil
}

// wc counts lines, words, bytes or characters of each input.
func wc(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("wc")
	showLines := fs.BoolP("lines", "l", false, "print line count")
	showWords := fs.BoolP("words", "w", false, "print word count")
	showBytes := fs.BoolP("bytes", "c", false, "print byte count")
	showChars := fs.BoolP("chars", "m", false, "print character count")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	if !*showLines && !*showWords && !*showBytes && !*showChars {
		*showLines, *showWords, *showBytes = true, true, true
	}

	type counts struct{ lines, words, bytes, chars int }
	var total counts
	w := bufio.NewWriter(s.Stdout)
	report := func(c counts, name string) {
		var cols []string
		if *showLines {
			cols = append(cols, fmt.Sprintf("%7d", c.lines))
		}
		if *showWords {
			cols = append(cols, fmt.Sprintf("%7d", c.words))
		}
		if *showChars {
			cols = append(cols, fmt.Sprintf("%7d", c.chars))
		}
		if *showBytes {
			cols = append(cols, fmt.Sprintf("%7d", c.bytes))
		}
		if name != "-" {
			cols = append(cols, name)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cols, " "))
	}

	err = eachInput(files, s, func(r io.Reader, name string, _ int) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		text := string(data)
		c := counts{
			lines: strings.Count(text, "\n"),
			words: len(strings.Fields(text)),
			bytes: len(data),
			chars: len([]rune(text)),
		}
		total.lines += c.lines
		total.words += c.words
		total.bytes += c.bytes
		total.chars += c.chars
		report(c, name)
		return nil
	})
	if err == nil && len(files) > 1 {
		report(total, "total")
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return alias.Result{}, err
}

// tee copies stdin to stdout and to every file operand.
func tee(_ context.Context, args []string, s alias.Streams) (res alias.Result, err error) {
	fs := flags("tee")
	appendMode := fs.BoolP("append", "a", false, "append to the given files")
	files, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	writers := []io.Writer{s.Stdout}
	for _, file := range files {
		f, err := openOutput(resolve(s.Dir, file), *appendMode)
		if err != nil {
			return alias.Result{}, err
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		writers = append(writers, f)
	}
	_, err = io.Copy(io.MultiWriter(writers...), s.Stdin)
	return alias.Result{}, err
}
