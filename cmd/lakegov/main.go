// Package main is the lakegov command.
package main

import (
	"os"

	"github.com/leapstack-labs/lakegov/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
