package main

import (
	"os"

	"omni-trader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
