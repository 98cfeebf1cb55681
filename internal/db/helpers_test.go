package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestParseUUID(t *testing.T) {
	u, err := ParseUUID("00000000-0000-0000-0000-000000000001")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !u.Valid {
		t.Fatal("expected valid uuid")
	}
	if got := UUIDToString(u); got != "00000000-0000-0000-0000-000000000001" {
		t.Fatalf("round-trip mismatch: %s", got)
	}

	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
	if _, err := ParseUUID(""); err == nil {
		t.Fatal("expected error for empty uuid")
	}
}

func TestParseOptionalUUID(t *testing.T) {
	u, err := ParseOptionalUUID("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if u.Valid {
		t.Fatal("expected NULL uuid for empty string")
	}

	u, err = ParseOptionalUUID("00000000-0000-0000-0000-000000000002")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !u.Valid {
		t.Fatal("expected valid uuid")
	}
}

func TestTextHelpers(t *testing.T) {
	if got := ToText("  hello  "); got.String != "hello" || !got.Valid {
		t.Fatalf("unexpected text: %+v", got)
	}
	if got := ToText("   "); got.Valid {
		t.Fatalf("expected NULL text, got %+v", got)
	}
	if got := TextToString(pgtype.Text{String: "x", Valid: true}); got != "x" {
		t.Fatalf("unexpected string: %s", got)
	}
	if got := TextToString(pgtype.Text{}); got != "" {
		t.Fatalf("expected empty string, got %s", got)
	}
}

func TestTimeHelpers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ts := ToTimestamptz(now)
	if !ts.Valid || !ts.Time.Equal(now) {
		t.Fatalf("unexpected timestamptz: %+v", ts)
	}
	if ToTimestamptz(time.Time{}).Valid {
		t.Fatal("expected NULL timestamptz for zero time")
	}

	if ptr := TimeToPtr(ts); ptr == nil || !ptr.Equal(now) {
		t.Fatalf("unexpected pointer: %v", ptr)
	}
	if ptr := TimeToPtr(pgtype.Timestamptz{}); ptr != nil {
		t.Fatalf("expected nil pointer, got %v", ptr)
	}
	if got := TimeOrZero(pgtype.Timestamptz{}); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}
