// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package launch

// processStopped is only implemented where /proc exposes process state.
func processStopped(int) bool { return false }
