// SPDX-License-Identifier: MPL-2.0

//go:build linux

package launch

import (
	"bytes"
	"os"
	"strconv"
)

// processStopped reads the state field of /proc/<pid>/stat. The command
// name may contain spaces and parentheses, so parsing starts after the last
// closing parenthesis.
func processStopped(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	switch data[i+2] {
	case 'T', 't':
		return true
	default:
		return false
	}
}
