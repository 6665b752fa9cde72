// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package jobs

func blockJobSignals() (func(), error) {
	return func() {}, nil
}
