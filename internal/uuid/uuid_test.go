// Package uuid provides unit tests for UUID generation and validation.
package uuid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("New() = %q, not a valid v4", id)
	}
	if id != strings.ToLower(id) {
		t.Errorf("New() = %q, want lowercase", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Fatalf("duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"v4", "123e4567-e89b-42d3-a456-426614174000", true},
		{"v4 uppercase", "123E4567-E89B-42D3-A456-426614174000", true},
		{"v1", "123e4567-e89b-12d3-a456-426614174000", false},
		{"bad variant", "123e4567-e89b-42d3-c456-426614174000", false},
		{"no hyphens", "123e4567e89b42d3a456426614174000", false},
		{"urn form", "urn:uuid:123e4567-e89b-42d3-a456-426614174000", false},
		{"braces", "{123e4567-e89b-42d3-a456-426614174000}", false},
		{"empty", "", false},
		{"garbage", "not-a-uuid-at-all-not-a-uuid-at-all", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.in); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(" 123E4567-E89B-42D3-A456-426614174000 ")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got != "123e4567-e89b-42d3-a456-426614174000" {
		t.Errorf("Normalize() = %q", got)
	}
	if _, err := Normalize("nope"); err == nil {
		t.Error("Normalize(nope) should fail")
	}
}
