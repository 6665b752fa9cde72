// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/procsh/config.cue (default
// ~/.config/procsh/config.cue; ~/Library/Application Support/procsh/config.cue
// on macOS), falling back to ./config.cue. Files are validated against the
// embedded config_schema.cue before being merged over the defaults, and
// PROCSH_* environment variables override individual keys.
//
// Settings cover pipeline behavior (output encoding, line buffer size, return
// policy, fail-fast, interrupt grace period, worker pool size), predictor
// overrides, user aliases and UI options.
package config
