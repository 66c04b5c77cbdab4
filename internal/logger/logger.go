package logger

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. The dev environment gets a human-readable
// console writer; everything else emits JSON lines.
func New(env string, w io.Writer) zerolog.Logger {
	if env == "dev" {
		output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).With().Timestamp().Logger()
}
