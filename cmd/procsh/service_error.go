// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/cmdline"
	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/issue"
	"github.com/procsh/procsh/internal/jobs"
	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/pipeline"
)

// ServiceError is an error that carries rendering information for the CLI
// layer: a pre-styled message and an optional issue catalogue entry.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalogue ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError. It panics on a nil err.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message, then the issue help text.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}
	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	if svcErr.IssueID == 0 {
		return
	}
	if entry := issue.Get(svcErr.IssueID); entry != nil {
		rendered, err := entry.Render("dark")
		if err != nil {
			log.Warn("failed to render issue catalogue entry", "issue", svcErr.IssueID, "err", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}

// classifyError maps a failure from the execution core to an issue
// catalogue entry and wraps it for rendering.
func classifyError(err error, verbose bool) *ServiceError {
	var id issue.Id
	var ae *issue.ActionableError
	switch {
	case errors.As(err, &ae) && ae.Issue != 0:
		id = ae.Issue
	case errors.Is(err, cmdline.ErrUnsupported), errors.Is(err, cmdline.ErrAmbiguousRedirect):
		id = issue.UnsupportedSyntaxId
	case errors.Is(err, alias.ErrBlockParse), errors.Is(err, alias.ErrDuplicateAlias), errors.Is(err, config.ErrInvalidAlias):
		id = issue.InvalidAliasId
	case errors.Is(err, config.ErrInvalidConfig):
		id = issue.ConfigLoadFailedId
	case errors.Is(err, jobs.ErrNoSuchJob), errors.Is(err, jobs.ErrNoJobs), errors.Is(err, jobs.ErrJobGone):
		id = issue.JobNotFoundId
	case errors.Is(err, pipeline.ErrUnknownEncoding):
		id = issue.UnknownEncodingId
	case errors.Is(err, launch.ErrCommandNotFound):
		id = issue.CommandNotFoundId
	case errors.Is(err, launch.ErrPermissionDenied):
		id = issue.PermissionDeniedId
	case errors.Is(err, launch.ErrStagePanic):
		id = issue.StagePanicId
	}
	msg := fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	return newServiceError(err, id, msg)
}
