package main

import (
	"fmt"
	"os"

	"github.com/danmuck/healthmon/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "healthmon: %v\n", err)
		os.Exit(1)
	}
}
