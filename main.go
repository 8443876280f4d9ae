// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/envmatrix/envmatrix/cmd/envmatrix"

func main() {
	cmd.Execute()
}
