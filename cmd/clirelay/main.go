package main

import (
	"errors"
	"fmt"
	"os"
)

// version is set at build time via: -ldflags "-X main.version=v1.0.0"
var version = "dev"

func main() {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
