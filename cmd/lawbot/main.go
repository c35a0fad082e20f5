// Command lawbot answers questions about the Vietnamese Health Insurance Law
// (Luật BHYT). It provides a CLI (via Cobra) with one-shot and interactive
// modes, and an HTTP server exposing the same answer pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/lawbot-go/cmd/lawbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
