package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"turntable/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(status queue.Status, colorize bool) string {
	if !colorize {
		return string(status)
	}
	switch status {
	case queue.StatusSuccess:
		return ansiGreen + string(status) + ansiReset
	case queue.StatusFailure:
		return ansiRed + string(status) + ansiReset
	case queue.StatusProcessing:
		return ansiYellow + string(status) + ansiReset
	default:
		return ansiBlue + string(status) + ansiReset
	}
}

func renderProgress(progress int) string {
	return fmt.Sprintf("%d%%", progress)
}
