package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Info().Str("branch", "centro").Msg("tray recomputed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["branch"] != "centro" {
		t.Fatalf("expected branch field, got %v", entry["branch"])
	}
	if entry["message"] != "tray recomputed" {
		t.Fatalf("unexpected message %v", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("expected timestamp field")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if got := ParseLevel("debug"); got != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v", got)
	}
	if got := ParseLevel(" WARN "); got != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %v", got)
	}
	if got := ParseLevel("loud"); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %v", got)
	}
	if got := ParseLevel(""); got != zerolog.InfoLevel {
		t.Fatalf("expected info for empty level, got %v", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	requestLogger := NewWithWriter(&buf).With().Str("request", "r-1").Logger()
	ctx := WithContext(context.Background(), requestLogger)

	ctxLogger := FromContext(ctx, zerolog.Nop())
	ctxLogger.Info().Msg("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"request":"r-1"`)) {
		t.Fatalf("expected request field from context logger, got %q", buf.String())
	}

	buf.Reset()
	fallbackLogger := FromContext(context.Background(), zerolog.Nop())
	fallbackLogger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected fallback logger to be used")
	}
}
