// Package uuid generates and checks the v4 identifiers used for entity
// ids, queued mutations and conflict log rows.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New generates a lowercase hyphenated UUID v4.
func New() string {
	return uuid.New().String()
}

// Parse parses s as a UUID v4 in canonical hyphenated form.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid UUID length %d", len(s))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	if id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("unexpected UUID variant %s", id.Variant())
	}
	return id, nil
}

// IsValid reports whether s is a canonical UUID v4.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Normalize lowercases a valid id so ids from clients compare equal to
// generated ones.
func Normalize(s string) (string, error) {
	id, err := Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
