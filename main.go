// The main package for the countly-etl executable.
package main

import (
	"github.com/JakeFAU/countly-etl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
