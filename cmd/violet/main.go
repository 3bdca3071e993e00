package main

import (
	"os"

	"github.com/ClearXs/Violet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
