// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	CommandNotFoundId Id = iota + 1
	PermissionDeniedId
	ConfigLoadFailedId
	UnsupportedSyntaxId
	InvalidAliasId
	JobNotFoundId
	NoTerminalId
	UnknownEncodingId
	StagePanicId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue with a glamour style: "auto", "dark", "light"
// or "notty".
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.extLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.extLinks {
			md += "- <" + string(link) + ">\n"
		}
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	commandNotFoundIssue = &Issue{
		id: CommandNotFoundId,
		mdMsg: `
# Command not found!

The first word of a pipeline stage is neither an alias nor an executable on your PATH.

## Things you can try:
- Check the spelling of the command
- List the registered aliases:
~~~
$ procsh run -- 'alias'
~~~
- Make sure the directory holding the binary is in PATH, or use a path containing a '/'`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

The file exists but could not be executed (exit status 126).

## Things you can try:
- Make the file executable:
~~~
$ chmod +x ./script.sh
~~~
- Add an interpreter line such as '#!/bin/sh' to scripts
- Check that the filesystem is not mounted noexec`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your config.cue could not be parsed or does not match the schema.

## Things you can try:
- Show the effective configuration and compare:
~~~
$ procsh config show
~~~
- Check PROCSH_* environment variables for typos
- Valid return policies are 'last' and 'pipefail'
- Valid predictor names are always, never, inspect, shell, help_ver, hg and env`,
	}

	unsupportedSyntaxIssue = &Issue{
		id: UnsupportedSyntaxId,
		mdMsg: `
# Unsupported shell construct!

Command lines may contain simple commands joined by '|' or '|&', with redirections,
a leading '!' and a trailing '&'. Statements may be separated by ';'.

## Things you can try:
- Move control flow (if, for, &&, subshells) into an exec-block alias:
~~~cue
aliases: {
	build: exec_block: "go vet ./... && go build ./..."
}
~~~`,
		extLinks: []HttpLink{"https://pubs.opengroup.org/onlinepubs/9799919799/utilities/V3_chap02.html"},
	}

	invalidAliasIssue = &Issue{
		id: InvalidAliasId,
		mdMsg: `
# Invalid alias!

Every alias in the config sets exactly one of 'exec_block' or 'argv', and
exec blocks must be valid shell source.

## Example:
~~~cue
aliases: {
	ll:    argv: ["ls", "-l"]
	greet: exec_block: "echo hello \"$1\""
}
~~~`,
	}

	jobNotFoundIssue = &Issue{
		id: JobNotFoundId,
		mdMsg: `
# No such job!

Job specs are '%n', 'n', '%+' (current job) or '%-' (previous job).

## Things you can try:
- List the jobs of this shell:
~~~
$ jobs
~~~`,
	}

	noTerminalIssue = &Issue{
		id: NoTerminalId,
		mdMsg: `
# No controlling terminal!

Job control needs standard input to be a terminal. Pipelines still run, but
'fg' cannot hand the terminal to a job and Ctrl-Z has no effect.

## Things you can try:
- Run the shell from an interactive terminal`,
	}

	unknownEncodingIssue = &Issue{
		id: UnknownEncodingId,
		mdMsg: `
# Unknown output encoding!

The 'encoding' setting must be a WHATWG encoding label such as 'utf-8',
'latin1', 'shift_jis' or 'utf-16le'.`,
		extLinks: []HttpLink{"https://encoding.spec.whatwg.org/#names-and-labels"},
	}

	stagePanicIssue = &Issue{
		id: StagePanicId,
		mdMsg: `
# An alias crashed!

A callable alias panicked. The pipeline continued and the stage reported exit status 1.

## Things you can try:
- Re-run with --verbose to see the panic value and stack
- Mark the alias unthreadable if it touches the terminal directly`,
	}

	issues = map[Id]*Issue{
		commandNotFoundIssue.Id():   commandNotFoundIssue,
		permissionDeniedIssue.Id():  permissionDeniedIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		unsupportedSyntaxIssue.Id(): unsupportedSyntaxIssue,
		invalidAliasIssue.Id():      invalidAliasIssue,
		jobNotFoundIssue.Id():       jobNotFoundIssue,
		noTerminalIssue.Id():        noTerminalIssue,
		unknownEncodingIssue.Id():   unknownEncodingIssue,
		stagePanicIssue.Id():        stagePanicIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
