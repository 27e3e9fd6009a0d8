// Package main is the entry point for the hueq CLI, which runs SQL on Hue notebooks.
package main

import (
	"hueq/cli/cmd"
)

func main() {
	cmd.Execute()
}
