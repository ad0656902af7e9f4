package main

import (
	"os"

	"github.com/stratumhq/stratum/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
