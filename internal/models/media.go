package models

import (
	"fmt"
	"time"
)

// MediaKind is the type of a cached binary asset.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is known.
func (k MediaKind) Valid() bool {
	return k == MediaImage || k == MediaVideo
}

// Priority orders cache entries for size-pressure eviction. Lower values
// are evicted first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts "low", "medium" or "high" to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// CacheEntry is the metadata of one cached media blob, addressed by its
// source URL.
type CacheEntry struct {
	Key            string    `db:"url" json:"url"`
	Kind           MediaKind `db:"kind" json:"kind"`
	BlobHash       string    `db:"blob_hash" json:"blob_hash"`
	ContentType    string    `db:"content_type" json:"content_type"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastAccessedAt time.Time `db:"last_accessed_at" json:"last_accessed_at"`
	Priority       Priority  `db:"priority" json:"priority"`
	OwnerRef       string    `db:"owner_ref" json:"owner_ref,omitempty"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
