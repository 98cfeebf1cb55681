package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ParseUUID converts a string id into a pgtype.UUID.
func ParseUUID(id string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(strings.TrimSpace(id)); err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return u, nil
}

// ParseOptionalUUID converts a string id into a pgtype.UUID, mapping the
// empty string to NULL.
func ParseOptionalUUID(id string) (pgtype.UUID, error) {
	if strings.TrimSpace(id) == "" {
		return pgtype.UUID{}, nil
	}
	return ParseUUID(id)
}

// UUIDToString renders a pgtype.UUID, mapping NULL to the empty string.
func UUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return u.String()
}

// ToText converts a string into a pgtype.Text, mapping empty to NULL.
func ToText(value string) pgtype.Text {
	value = strings.TrimSpace(value)
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

// TextToString unwraps a pgtype.Text, mapping NULL to the empty string.
func TextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToTimestamptz converts a time.Time into a pgtype.Timestamptz.
func ToTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// TimeToPtr unwraps a pgtype.Timestamptz into a *time.Time, NULL to nil.
func TimeToPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// TimeOrZero unwraps a pgtype.Timestamptz, NULL to the zero time.
func TimeOrZero(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
