// cmd/codeforge/main.go
//
// Entry point for the codeforge CLI. `codeforge serve` hosts the worker;
// the other subcommands talk to a running worker over TCP.

package main

import (
	"fmt"
	"os"

	"github.com/kingrea/codeforge/internal/command"
)

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
