package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"secnews/internal/config"
)

const Prefix = "[secnews] "

// New returns a logger writing to stderr, or appending to logFile when set.
// Stdout is reserved for the MCP stdio transport. The returned close function
// is always non-nil.
func New(logFile string, verbose bool) (*log.Logger, func() error) {
	noop := func() error { return nil }
	if !verbose && strings.TrimSpace(logFile) == "" {
		return log.New(io.Discard, Prefix, log.LstdFlags), noop
	}

	logger := log.New(os.Stderr, Prefix, log.LstdFlags)
	logFile = strings.TrimSpace(logFile)
	if logFile == "" {
		return logger, noop
	}
	logFile = config.ExpandPath(logFile)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		logger.Printf("log file unavailable, using stderr: path=%s err=%v", logFile, err)
		return logger, noop
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Printf("log file unavailable, using stderr: path=%s err=%v", logFile, err)
		return logger, noop
	}
	logger.SetOutput(f)
	return logger, f.Close
}
