// Command callscope is the entry point for the VoIP signalling analyzer.
package main

import (
	"os"

	"github.com/callscope/callscope/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
