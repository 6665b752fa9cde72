// SPDX-License-Identifier: MPL-2.0

package spec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadRedirect is the sentinel error wrapped by RedirectError.
var ErrBadRedirect = errors.New("unrecognized redirection")

const (
	// StreamStdin targets standard input.
	StreamStdin Stream = iota
	// StreamStdout targets standard output.
	StreamStdout
	// StreamStderr targets standard error.
	StreamStderr
	// StreamAll targets stdout and stderr together.
	StreamAll
)

type (
	// Stream names the standard stream a redirection applies to.
	Stream int

	// Redirect is a parsed redirection ready to be applied to a spec.
	Redirect struct {
		Stream   Stream
		Endpoint Endpoint
	}

	// RedirectError reports a token that is not a valid redirection.
	RedirectError struct {
		Token  string
		Target string
		Reason string
	}
)

// Error implements the error interface.
func (e *RedirectError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("unrecognized redirection %q %q: %s", e.Token, e.Target, e.Reason)
	}
	return fmt.Sprintf("unrecognized redirection %q: %s", e.Token, e.Reason)
}

// Unwrap returns ErrBadRedirect so callers can use errors.Is for programmatic detection.
func (e *RedirectError) Unwrap() error { return ErrBadRedirect }

// String returns the short stream name.
func (s Stream) String() string {
	switch s {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamAll:
		return "all"
	default:
		return fmt.Sprintf("Stream(%d)", int(s))
	}
}

// streamNames maps every accepted spelling of a stream origin.
var streamNames = map[string]Stream{
	"o": StreamStdout, "out": StreamStdout, "1": StreamStdout,
	"e": StreamStderr, "err": StreamStderr, "2": StreamStderr,
	"a": StreamAll, "all": StreamAll, "&": StreamAll,
	"0": StreamStdin,
}

// ParseRedirect parses a redirection token such as ">", ">>", "<", "e>",
// "a>", "2>&1" or "e>o". File redirections take the file name in target;
// stream merges must have an empty target.
func ParseRedirect(token, target string) (Redirect, error) {
	bad := func(reason string) (Redirect, error) {
		return Redirect{}, &RedirectError{Token: token, Target: target, Reason: reason}
	}

	i := strings.IndexAny(token, "<>")
	if i < 0 {
		return bad("no redirection operator")
	}
	origin, rest := token[:i], token[i:]

	var (
		op    byte
		mode  FileMode
		after string
	)
	switch {
	case strings.HasPrefix(rest, ">>"):
		op, mode, after = '>', ModeAppend, rest[2:]
	case rest[0] == '>':
		op, mode, after = '>', ModeTruncate, rest[1:]
	default:
		op, mode, after = '<', ModeRead, rest[1:]
	}

	from := StreamStdout
	if op == '<' {
		from = StreamStdin
	}
	if origin != "" {
		s, ok := streamNames[origin]
		if !ok {
			return bad("unknown stream " + origin)
		}
		from = s
	}
	if op == '<' && from != StreamStdin {
		return bad("only stdin can be read from a file")
	}
	if op == '>' && from == StreamStdin {
		return bad("stdin cannot be written")
	}

	if after == "" {
		if target == "" {
			return bad("missing file name")
		}
		return Redirect{Stream: from, Endpoint: FileEndpoint(target, mode)}, nil
	}

	// Stream merge: "2>&1", "e>o", "1>&2", "out>err".
	if target != "" {
		return bad("a stream merge takes no file name")
	}
	if mode == ModeAppend {
		return bad("a stream merge cannot append")
	}
	to, ok := streamNames[strings.TrimPrefix(after, "&")]
	if !ok {
		return bad("unknown stream " + after)
	}
	switch {
	case from == StreamStderr && to == StreamStdout:
		return Redirect{Stream: StreamStderr, Endpoint: Endpoint{Kind: ToStdout}}, nil
	case from == StreamStdout && to == StreamStderr:
		return Redirect{Stream: StreamStdout, Endpoint: Endpoint{Kind: ToStderr}}, nil
	default:
		return bad(fmt.Sprintf("cannot merge %s into %s", from, to))
	}
}

// ApplyRedirect installs r on the spec. StreamAll sends stdout to the target
// and merges stderr into stdout.
func (s *CommandSpec) ApplyRedirect(r Redirect) {
	switch r.Stream {
	case StreamStdin:
		s.Stdin = r.Endpoint
	case StreamStdout:
		s.Stdout = r.Endpoint
	case StreamStderr:
		s.Stderr = r.Endpoint
	case StreamAll:
		s.Stdout = r.Endpoint
		s.Stderr = Endpoint{Kind: ToStdout}
	}
}
