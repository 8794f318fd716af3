package cluster

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// newNoOpHCLogger creates an hclog.Logger that drops everything.
func newNoOpHCLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Off,
		Output: io.Discard,
	})
}

// newHCLogger creates an hclog.Logger writing through stdLogger, which in
// practice bridges into slog.
func newHCLogger(stdLogger *log.Logger, level hclog.Level) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  level,
		Output: stdLogger.Writer(),
	})
}
