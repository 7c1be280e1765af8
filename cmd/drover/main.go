package main

import (
	"os"

	"github.com/drover-ai/drover/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
