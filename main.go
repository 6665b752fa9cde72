// SPDX-License-Identifier: MPL-2.0

// Command procsh runs shell pipelines of processes and in-process aliases.
package main

import cmd "github.com/procsh/procsh/cmd/procsh"

func main() {
	cmd.Execute()
}
