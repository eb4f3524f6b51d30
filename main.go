// The main package for the manga-crawler executable.
package main

import (
	"github.com/JakeFAU/manga-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
