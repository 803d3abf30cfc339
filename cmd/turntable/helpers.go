package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"turntable/internal/queue"
)

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspect video %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory, not a video file", path)
	}
	return os.ReadFile(path)
}

// stepTitle renders a pipeline step for human output, e.g.
// "removing_background" becomes "Removing Background".
func stepTitle(step queue.Step) string {
	if step == "" {
		return "-"
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(string(step), "_", " "))
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
