package main

import (
	"os"

	"github.com/OlaProeis/ironPad/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
