// The main package for the quarry executable.
package main

import (
	"github.com/quarryd/quarry/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
