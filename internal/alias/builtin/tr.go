// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"bufio"
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/procsh/procsh/internal/alias"
)

// tr translates, deletes or squeezes characters read from stdin.
func tr(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
	fs := flags("tr")
	deleteMode := fs.BoolP("delete", "d", false, "delete characters in SET1")
	squeeze := fs.BoolP("squeeze-repeats", "s", false, "squeeze repeats")
	complement := fs.BoolP("complement", "c", false, "complement SET1")
	complementUpper := fs.BoolP("complement-chars", "C", false, "complement SET1")
	operands, err := parse(fs, args)
	if err != nil {
		return alias.Result{}, err
	}

	if len(operands) == 0 {
		return alias.Result{}, ErrMissingOperand
	}
	set1 := expandSet(operands[0])
	var set2 []rune
	if len(operands) > 1 {
		set2 = expandSet(operands[1])
	}
	inSet1 := func(r rune) bool {
		return slices.Contains(set1, r) != (*complement || *complementUpper)
	}

	var mapping map[rune]rune
	if !*deleteMode && len(set2) > 0 {
		mapping = make(map[rune]rune, len(set1))
		for i, r := range set1 {
			mapping[r] = set2[min(i, len(set2)-1)]
		}
	} else if !*deleteMode && !*squeeze {
		return alias.Result{}, ErrMissingOperand
	}

	// Squeezing applies to SET2 when translating and to SET1 otherwise.
	squeezeSet := set1
	if len(set2) > 0 {
		squeezeSet = set2
	}

	in := bufio.NewReader(s.Stdin)
	w := bufio.NewWriter(s.Stdout)
	var last rune = -1
	for {
		r, _, err := in.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return alias.Result{}, err
		}
		switch {
		case *deleteMode && inSet1(r):
			continue
		case mapping != nil && inSet1(r):
			if m, ok := mapping[r]; ok {
				r = m
			} else {
				r = set2[len(set2)-1]
			}
		}
		if *squeeze && r == last && slices.Contains(squeezeSet, r) {
			continue
		}
		last = r
		_, _ = w.WriteRune(r)
	}
	return alias.Result{}, w.Flush()
}

var charClasses = map[string]string{
	"[:lower:]": "a-z",
	"[:upper:]": "A-Z",
	"[:digit:]": "0-9",
	"[:alpha:]": "a-zA-Z",
	"[:alnum:]": "a-zA-Z0-9",
	"[:space:]": " \t\n\r\v\f",
	"[:blank:]": " \t",
}

// expandSet expands ranges, classes and backslash escapes of a tr set.
func expandSet(set string) []rune {
	for class, chars := range charClasses {
		set = strings.ReplaceAll(set, class, chars)
	}
	src := []rune(set)
	var out []rune
	for i := 0; i < len(src); i++ {
		r := src[i]
		if r == '\\' && i+1 < len(src) {
			i++
			switch src[i] {
			case 'n':
				r = '\n'
			case 't':
				r = '\t'
			case 'r':
				r = '\r'
			default:
				r = src[i]
			}
		}
		if i+2 < len(src) && src[i+1] == '-' {
			for c := r; c <= src[i+2]; c++ {
				out = append(out, c)
			}
			i += 2
			continue
		}
		out = append(out, r)
	}
	return out
}
