// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/varkeep/varkeep/cmd/varkeep"

func main() {
	cmd.Execute()
}
