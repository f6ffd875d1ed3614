// Package logging builds the process logger.
//
// Human-readable run summaries go to stdout; structured logs go to stderr so
// the two never interleave in piped output.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	Verbose bool
	Format  string // "text" (default) or "json"
	Output  io.Writer
}

// New returns a configured logger. Verbose enables per-record debug traces.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	log.SetLevel(logrus.InfoLevel)
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
