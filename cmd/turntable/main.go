package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			// Interrupted by the user; exit with the conventional signal code.
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "turntable: %v\n", err)
		os.Exit(1)
	}
}
