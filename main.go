// The main package for the appeal extractor executable.
package main

import (
	"github.com/JakeFAU/arb-appeal-extractor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
