// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/predict"
)

const (
	// ReturnLast takes the pipeline status from the last stage.
	ReturnLast ReturnPolicy = "last"
	// ReturnPipefail takes the status of the rightmost failing stage.
	ReturnPipefail ReturnPolicy = "pipefail"
)

const (
	// DefaultEncoding decodes captured output.
	DefaultEncoding = "utf-8"
	// DefaultLineBuffer is the capacity of the captured line channel.
	DefaultLineBuffer = 256
	// DefaultInterruptGrace is how long interrupted stages get before they
	// are killed.
	DefaultInterruptGrace = 2 * time.Second
)

var (
	// ErrInvalidReturnPolicy is returned for an unknown return policy name.
	ErrInvalidReturnPolicy = errors.New("invalid return policy")

	// ErrUnknownEncoding is returned when the output encoding is not known.
	ErrUnknownEncoding = errors.New("unknown encoding")
)

type (
	// ReturnPolicy selects which stage statuses make up the pipeline status.
	ReturnPolicy string

	// Options configures a Coordinator.
	Options struct {
		// Predictor decides threadability; nil means predict.New with defaults.
		Predictor *predict.Predictor
		// Plumber wires streams; nil means plumbing.New with defaults.
		Plumber *plumbing.Plumber
		// Launcher starts stages; nil means launch.New with defaults.
		Launcher *launch.Launcher

		// Encoding names the encoding of captured output (WHATWG labels).
		Encoding string
		// LineBuffer is the capacity of the captured line channel.
		LineBuffer int
		// ReturnPolicy selects how stage statuses combine.
		ReturnPolicy ReturnPolicy
		// FailFast tears down the remaining stages once any stage fails.
		FailFast bool
		// InterruptGrace is the delay between interrupt and kill.
		InterruptGrace time.Duration
		// SharedGroup keeps processes in the host's process group instead of
		// a new group per pipeline.
		SharedGroup bool
		// TermOutput receives output of stages given a pseudo-terminal; nil
		// means os.Stdout.
		TermOutput io.Writer
		// ControllingTTY, when set, is handed to the process group of every
		// foreground pipeline as its leader starts.
		ControllingTTY *os.File
		// Logger receives debug output; nil means log.Default().
		Logger *log.Logger
	}
)

// String returns the policy name.
func (p ReturnPolicy) String() string { return string(p) }

// IsValid reports whether p is a known policy.
func (p ReturnPolicy) IsValid() bool {
	return p == ReturnLast || p == ReturnPipefail
}

// Validate returns ErrInvalidReturnPolicy wrapped with the offending value.
func (p ReturnPolicy) Validate() error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %q (valid: %s, %s)", ErrInvalidReturnPolicy, string(p), ReturnLast, ReturnPipefail)
	}
	return nil
}
