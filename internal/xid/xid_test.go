package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewCarriesPrefixAndUUID(t *testing.T) {
	id := New("rec")
	if !strings.HasPrefix(id, "rec-") {
		t.Fatalf("expected rec- prefix, got %s", id)
	}
	parsed, err := uuid.Parse(strings.TrimPrefix(id, "rec-"))
	if err != nil {
		t.Fatalf("expected uuid suffix, got %s: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7 uuid, got v%d", parsed.Version())
	}
	if New("rec") == id {
		t.Fatalf("expected unique ids")
	}
}
