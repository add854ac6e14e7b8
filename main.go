package main

import (
	"os"

	"github.com/promptforge/promptforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
