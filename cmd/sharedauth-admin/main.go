package main

import (
	"github.com/turtacn/sharedauth/cmd/cli"
)

// main is the entry point for the sharedauth-admin command-line tool.
// It delegates all execution to the Execute function provided by the cli package.
func main() {
	cli.Execute()
}
