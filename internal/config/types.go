// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ReturnLast reports the status of the last stage.
	// Defined locally to avoid coupling config to internal/pipeline;
	// the CLI converts at the boundary.
	ReturnLast ReturnPolicy = "last"
	// ReturnPipefail reports the rightmost nonzero stage status.
	ReturnPipefail ReturnPolicy = "pipefail"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidReturnPolicy is returned when a ReturnPolicy value is not recognized.
	ErrInvalidReturnPolicy = errors.New("invalid return policy")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidDuration is returned when a duration string cannot be parsed.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidLimit is returned when a size or count setting is not positive.
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrInvalidAlias is the sentinel error wrapped by InvalidAliasError.
	ErrInvalidAlias = errors.New("invalid alias")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ReturnPolicy selects how a pipeline's status is derived from its stages.
	ReturnPolicy string

	// InvalidReturnPolicyError is returned when a ReturnPolicy value is not recognized.
	// It wraps ErrInvalidReturnPolicy for errors.Is() compatibility.
	InvalidReturnPolicyError struct {
		Value ReturnPolicy
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// DurationText is a Go duration string such as "2s" or "500ms".
	DurationText string

	// InvalidDurationError is returned when a DurationText does not parse or
	// is negative.
	InvalidDurationError struct {
		Field string
		Value DurationText
	}

	// InvalidLimitError is returned when a numeric setting is out of range.
	InvalidLimitError struct {
		Field string
		Value int
	}

	// InvalidAliasError is returned when an alias entry does not define
	// exactly one of exec_block and argv.
	InvalidAliasError struct {
		Name   string
		Reason string
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// AliasConfig defines a user alias. Exactly one field is set.
	AliasConfig struct {
		// ExecBlock is shell source run by the embedded interpreter.
		ExecBlock string `json:"exec_block,omitempty" mapstructure:"exec_block" toml:"exec_block,omitempty"`
		// Argv replaces the alias name with a longer argument vector.
		Argv []string `json:"argv,omitempty" mapstructure:"argv" toml:"argv,omitempty"`
	}

	// Config holds the application configuration.
	Config struct {
		// Encoding names the character encoding of captured output.
		Encoding string `json:"encoding" mapstructure:"encoding" toml:"encoding"`
		// LineBuffer bounds the number of decoded lines held between the
		// output reader and the consumer.
		LineBuffer int `json:"line_buffer" mapstructure:"line_buffer" toml:"line_buffer"`
		// ReturnPolicy selects last-stage or pipefail status semantics.
		ReturnPolicy ReturnPolicy `json:"return_policy" mapstructure:"return_policy" toml:"return_policy"`
		// FailFast tears down a pipeline when any stage fails.
		FailFast bool `json:"fail_fast" mapstructure:"fail_fast" toml:"fail_fast"`
		// InterruptGrace is how long interrupted stages get before being killed.
		InterruptGrace DurationText `json:"interrupt_grace" mapstructure:"interrupt_grace" toml:"interrupt_grace"`
		// MaxThreads bounds the number of concurrently running in-process aliases.
		MaxThreads int `json:"max_threads" mapstructure:"max_threads" toml:"max_threads"`
		// Predictors overrides the threadability policy of named commands.
		Predictors map[string]string `json:"predictors" mapstructure:"predictors" toml:"predictors"`
		// Aliases defines user aliases.
		Aliases map[string]AliasConfig `json:"aliases" mapstructure:"aliases" toml:"aliases"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui" toml:"ui"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme" toml:"color_scheme"`
		// Verbose enables debug logging
		Verbose bool `json:"verbose" mapstructure:"verbose" toml:"verbose"`
	}
)

// Error implements the error interface for InvalidReturnPolicyError.
func (e *InvalidReturnPolicyError) Error() string {
	return fmt.Sprintf("invalid return policy %q (valid: last, pipefail)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidReturnPolicyError) Unwrap() error { return ErrInvalidReturnPolicy }

// String returns the string representation of the ReturnPolicy.
func (p ReturnPolicy) String() string { return string(p) }

// IsValid returns whether the ReturnPolicy is one of the defined policies,
// and a list of validation errors if it is not.
func (p ReturnPolicy) IsValid() (bool, []error) {
	switch p {
	case ReturnLast, ReturnPipefail:
		return true, nil
	default:
		return false, []error{&InvalidReturnPolicyError{Value: p}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidDurationError.
func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q (use a Go duration such as \"2s\")", e.Field, e.Value)
}

// Unwrap returns ErrInvalidDuration for errors.Is() compatibility.
func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// Duration parses the text. Empty text is zero.
func (d DurationText) Duration() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(string(d))
	if err != nil || v < 0 {
		return 0, &InvalidDurationError{Value: d}
	}
	return v, nil
}

// Error implements the error interface for InvalidLimitError.
func (e *InvalidLimitError) Error() string {
	return fmt.Sprintf("%s: must be positive, got %d", e.Field, e.Value)
}

// Unwrap returns ErrInvalidLimit for errors.Is() compatibility.
func (e *InvalidLimitError) Unwrap() error { return ErrInvalidLimit }

// Error implements the error interface for InvalidAliasError.
func (e *InvalidAliasError) Error() string {
	return fmt.Sprintf("alias %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidAlias for errors.Is() compatibility.
func (e *InvalidAliasError) Unwrap() error { return ErrInvalidAlias }

// IsBlock reports whether the alias is an exec block.
func (a AliasConfig) IsBlock() bool { return a.ExecBlock != "" }

func (a AliasConfig) validate(name string) error {
	switch {
	case strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\n|&;<>"):
		return &InvalidAliasError{Name: name, Reason: "name must be a single word"}
	case a.ExecBlock != "" && len(a.Argv) > 0:
		return &InvalidAliasError{Name: name, Reason: "set exec_block or argv, not both"}
	case a.ExecBlock == "" && len(a.Argv) == 0:
		return &InvalidAliasError{Name: name, Reason: "one of exec_block or argv is required"}
	default:
		return nil
	}
}

// IsValid returns whether the UIConfig has valid fields.
func (c UIConfig) IsValid() (bool, []error) {
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		return false, []error{&InvalidUIConfigError{FieldErrors: fieldErrs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields. Predictor policy
// names are checked by the predictor table when it is built.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ReturnPolicy.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if _, err := c.InterruptGrace.Duration(); err != nil {
		var de *InvalidDurationError
		if errors.As(err, &de) {
			de.Field = "interrupt_grace"
		}
		errs = append(errs, err)
	}
	if c.LineBuffer <= 0 {
		errs = append(errs, &InvalidLimitError{Field: "line_buffer", Value: c.LineBuffer})
	}
	if c.MaxThreads <= 0 {
		errs = append(errs, &InvalidLimitError{Field: "max_threads", Value: c.MaxThreads})
	}
	for name, a := range c.Aliases {
		if err := a.validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Encoding:       "utf-8",
		LineBuffer:     256,
		ReturnPolicy:   ReturnLast,
		FailFast:       false,
		InterruptGrace: "2s",
		MaxThreads:     8,
		Predictors:     map[string]string{},
		Aliases:        map[string]AliasConfig{},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
