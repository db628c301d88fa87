package main

import (
	"os"

	"github.com/logmet/logmet-go/agent/cmd/logmetctl/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
