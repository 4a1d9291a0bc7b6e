package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// New builds the process logger. format "json" writes one JSON object per
// line; anything else uses the human readable console writer.
func New(level string, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.ToLower(strings.TrimSpace(format)) != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out).Level(ParseLevel(level))
}

// NewWithWriter creates a logger that writes JSON to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the request logger stored in ctx, or fallback when none
// was attached.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := ctx.Value(contextKey{}).(zerolog.Logger); ok {
		return l
	}
	return fallback
}
