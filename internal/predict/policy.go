// SPDX-License-Identifier: MPL-2.0

package predict

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	// MayThread means the command is safe to run on a worker.
	MayThread Decision = iota
	// MustProcess means the command needs a real foreground process.
	MustProcess
)

const (
	// AlwaysThread predicts MayThread unconditionally.
	AlwaysThread PolicyKind = iota
	// NeverThread predicts MustProcess unconditionally.
	NeverThread
	// InspectBinary scans the resolved executable.
	InspectBinary
	// Custom delegates to Policy.Func.
	Custom
)

// ErrUnknownPolicy is the sentinel error wrapped by UnknownPolicyError.
var ErrUnknownPolicy = errors.New("unknown predictor policy")

type (
	// Decision is the outcome of a prediction.
	Decision int

	// PolicyKind tags the variant of a Policy.
	PolicyKind int

	// Func inspects the arguments (excluding the command name) and decides.
	// The Predictor is passed so that wrappers such as env can delegate.
	Func func(args []string, p *Predictor) Decision

	// Policy is the per-command prediction rule.
	Policy struct {
		Kind PolicyKind
		// Name identifies built-in Custom policies in configuration.
		Name string
		Func Func
	}

	// Table maps command names to policies.
	Table map[string]Policy

	// UnknownPolicyError is returned for an unrecognized policy name.
	UnknownPolicyError struct {
		Name string
	}
)

// Error implements the error interface.
func (e *UnknownPolicyError) Error() string {
	return fmt.Sprintf("unknown predictor policy %q (valid: %s)", e.Name, strings.Join(PolicyNames(), ", "))
}

// Unwrap returns ErrUnknownPolicy so callers can use errors.Is for programmatic detection.
func (e *UnknownPolicyError) Unwrap() error { return ErrUnknownPolicy }

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case MayThread:
		return "MayThread"
	case MustProcess:
		return "MustProcess"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Threadable reports whether d is MayThread.
func (d Decision) Threadable() bool { return d == MayThread }

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p.Kind {
	case AlwaysThread:
		return "always"
	case NeverThread:
		return "never"
	case InspectBinary:
		return "inspect"
	default:
		if p.Name != "" {
			return p.Name
		}
		return "custom"
	}
}

var (
	always  = Policy{Kind: AlwaysThread}
	never   = Policy{Kind: NeverThread}
	inspect = Policy{Kind: InspectBinary}
	shell   = Policy{Kind: Custom, Name: "shell", Func: predictShell}
	helpVer = Policy{Kind: Custom, Name: "help_ver", Func: predictHelpVer}
	hg      = Policy{Kind: Custom, Name: "hg", Func: predictHg}
	env     = Policy{Kind: Custom, Name: "env", Func: predictEnv}

	namedPolicies = map[string]Policy{
		"always":   always,
		"never":    never,
		"inspect":  inspect,
		"shell":    shell,
		"help_ver": helpVer,
		"hg":       hg,
		"env":      env,
	}
)

// PolicyNames returns the names accepted by ParsePolicy, sorted.
func PolicyNames() []string {
	return slices.Sorted(maps.Keys(namedPolicies))
}

// ParsePolicy returns the policy registered under name.
func ParsePolicy(name string) (Policy, error) {
	p, ok := namedPolicies[name]
	if !ok {
		return Policy{}, &UnknownPolicyError{Name: name}
	}
	return p, nil
}

// Clone returns a copy of the table.
func (t Table) Clone() Table { return maps.Clone(t) }

// Override replaces entries using policy names, as read from configuration.
func (t Table) Override(names map[string]string) error {
	for cmd, name := range names {
		p, err := ParsePolicy(name)
		if err != nil {
			return fmt.Errorf("predictor for %q: %w", cmd, err)
		}
		t[cmd] = p
	}
	return nil
}

// DefaultTable returns the built-in policy table.
func DefaultTable() Table {
	t := Table{}
	for _, name := range []string{
		"aurman", "cat", "clear", "cls", "cryptop", "emacsclient", "ex", "mc",
		"nvim", "percol", "psql", "pv", "rview", "rvim", "scp", "ssh", "startx",
		"telnet", "tput", "vi", "view", "vim", "xdg-open", "yes",
	} {
		t[name] = never
	}
	for _, name := range []string{
		"awk", "cryptsetup", "curl", "gawk", "git", "ls", "nmcli", "systemctl",
		"udisksctl", "unzip", "wget", "zip", "zipinfo",
	} {
		t[name] = always
	}
	for _, name := range []string{
		"asciinema", "ghci", "gvim", "htop", "less", "man", "more", "mutt",
		"mvim", "nano", "ponysay", "ranger", "repo", "sudo", "sudoedit", "top",
		"vimpager", "weechat", "xclip", "xo",
	} {
		t[name] = helpVer
	}
	for _, name := range []string{
		"bash", "cmd", "csh", "elvish", "fish", "ipython", "julia", "ksh",
		"push", "python", "python2", "python3", "rwt", "sh", "tcsh", "xon.sh",
		"xonsh", "zsh",
	} {
		t[name] = shell
	}
	t["hg"] = hg
	t["env"] = env
	return t
}

func decide(ok bool) Decision {
	if ok {
		return MayThread
	}
	return MustProcess
}

// predictShell threads a shell only when it runs a command string or a
// script file; an interactive shell needs the terminal.
func predictShell(args []string, _ *Predictor) Decision {
	for _, a := range args {
		if a == "-c" || a == "--" {
			return MayThread
		}
		if !strings.HasPrefix(a, "-") {
			return MayThread
		}
	}
	return MustProcess
}

// predictHelpVer threads commands that only print help or version text.
func predictHelpVer(args []string, _ *Predictor) Decision {
	for _, a := range args {
		switch {
		case a == "-h", a == "-v", a == "-V",
			a == "--help", a == "--version",
			strings.HasPrefix(a, "--help="), strings.HasPrefix(a, "--version="):
			return MayThread
		}
	}
	return MustProcess
}

// predictHg keeps interactive mercurial commands and split in the foreground.
func predictHg(args []string, _ *Predictor) Decision {
	command := ""
	interactive := false
	for _, a := range args {
		switch {
		case a == "-i", a == "--interactive":
			interactive = true
		case command == "" && !strings.HasPrefix(a, "-"):
			command = a
		}
	}
	if command == "split" {
		return MustProcess
	}
	return decide(!interactive)
}

// predictEnv delegates to the command env launches, skipping options and
// NAME=VALUE assignments.
func predictEnv(args []string, p *Predictor) Decision {
	for i, a := range args {
		if a != "" && a[0] != '-' && !strings.Contains(a, "=") {
			return p.PredictArgv(args[i:])
		}
	}
	return MayThread
}
