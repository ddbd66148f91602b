// Package rlog bootstraps the process-wide zerolog logger: a human-readable
// console writer when stderr is a terminal, structured JSON lines
// otherwise (e.g. when output is piped into a CI log collector).
//
// Grounded on the teacher's cmd root command logging setup.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a logger writing to w at debug level when verbose is true and
// info level otherwise. When w is an *os.File attached to a TTY, output goes
// through zerolog's ConsoleWriter; otherwise each line is a JSON object.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
