// SPDX-License-Identifier: MPL-2.0

package spec

import (
	"errors"
	"testing"
)

func TestParseRedirect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token, target string
		want          Redirect
	}{
		{">", "out", Redirect{StreamStdout, FileEndpoint("out", ModeTruncate)}},
		{">>", "log", Redirect{StreamStdout, FileEndpoint("log", ModeAppend)}},
		{"<", "in", Redirect{StreamStdin, FileEndpoint("in", ModeRead)}},
		{"o>", "out", Redirect{StreamStdout, FileEndpoint("out", ModeTruncate)}},
		{"e>", "err", Redirect{StreamStderr, FileEndpoint("err", ModeTruncate)}},
		{"2>>", "err", Redirect{StreamStderr, FileEndpoint("err", ModeAppend)}},
		{"a>", "all", Redirect{StreamAll, FileEndpoint("all", ModeTruncate)}},
		{"&>", "all", Redirect{StreamAll, FileEndpoint("all", ModeTruncate)}},
		{"2>&1", "", Redirect{StreamStderr, Endpoint{Kind: ToStdout}}},
		{"e>o", "", Redirect{StreamStderr, Endpoint{Kind: ToStdout}}},
		{"err>out", "", Redirect{StreamStderr, Endpoint{Kind: ToStdout}}},
		{"1>&2", "", Redirect{StreamStdout, Endpoint{Kind: ToStderr}}},
		{">&2", "", Redirect{StreamStdout, Endpoint{Kind: ToStderr}}},
		{"o>e", "", Redirect{StreamStdout, Endpoint{Kind: ToStderr}}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRedirect(tt.token, tt.target)
			if err != nil {
				t.Fatalf("ParseRedirect(%q, %q) error = %v", tt.token, tt.target, err)
			}
			if got != tt.want {
				t.Errorf("ParseRedirect(%q, %q) = %+v, want %+v", tt.token, tt.target, got, tt.want)
			}
		})
	}
}

func TestParseRedirect_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct{ token, target string }{
		{"|", ""},
		{">", ""},
		{"x>", "f"},
		{"e<", "f"},
		{"2>&1", "f"},
		{"2>>&1", ""},
		{"2>&9", ""},
		{"o>o", ""},
		{"a>e", ""},
	}

	for _, tt := range tests {
		t.Run(tt.token+" "+tt.target, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRedirect(tt.token, tt.target)
			if !errors.Is(err, ErrBadRedirect) {
				t.Errorf("ParseRedirect(%q, %q) error = %v, want ErrBadRedirect", tt.token, tt.target, err)
			}
		})
	}
}

func TestApplyRedirect_All(t *testing.T) {
	t.Parallel()

	s := ext(0, "make")
	r, err := ParseRedirect("a>", "build.log")
	if err != nil {
		t.Fatalf("ParseRedirect() error = %v", err)
	}
	s.ApplyRedirect(r)
	if s.Stdout != FileEndpoint("build.log", ModeTruncate) {
		t.Errorf("Stdout = %s, want file(>build.log)", s.Stdout)
	}
	if s.Stderr.Kind != ToStdout {
		t.Errorf("Stderr = %s, want to-stdout", s.Stderr)
	}
	if _, err := Prepare([]*CommandSpec{s}); err != nil {
		t.Errorf("Prepare() error = %v", err)
	}
}
