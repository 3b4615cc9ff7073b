package media

import (
	"sort"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// RecentWindow is how recently an entry must have been accessed to be
// protected by CleanupOptions.PreserveRecentlyAccessed.
const RecentWindow = 48 * time.Hour

// NoBudget disables the size pass of a cleanup.
const NoBudget int64 = -1

// CleanupOptions parameterizes an eviction pass.
type CleanupOptions struct {
	// BudgetBytes is the resident size to shrink to. Zero is a real
	// budget that evicts every unprotected entry; NoBudget (any negative
	// value) applies no size pressure.
	BudgetBytes int64 `json:"budget_bytes"`

	// MaxAge evicts candidates created longer ago than this regardless of
	// size (0 = no age floor).
	MaxAge time.Duration `json:"max_age"`

	PreserveHighPriority     bool `json:"preserve_high_priority"`
	PreserveRecentlyAccessed bool `json:"preserve_recently_accessed"`
}

// CleanupReport describes the outcome of an eviction pass.
type CleanupReport struct {
	DeletedCount   int   `json:"deleted_count"`
	DeletedBytes   int64 `json:"deleted_bytes"`
	AgedOutCount   int   `json:"aged_out_count"`
	ResidentBytes  int64 `json:"resident_bytes"`
	ProtectedBytes int64 `json:"protected_bytes"`
	// ExcessBytes is how far ResidentBytes remains above the budget
	// because every remaining entry is protected.
	ExcessBytes int64 `json:"excess_bytes"`
}

// planCleanup selects the entries to evict.
//
//  1. Candidates are all entries except protected ones (High priority,
//     recently accessed, or pinned by an in-flight fetch, as requested).
//  2. Every candidate created before now-MaxAge is marked.
//  3. While the projected resident size exceeds the budget, the
//     remaining candidates are marked in (priority, last access) order.
func planCleanup(entries []models.CacheEntry, opts CleanupOptions, now time.Time, pinned func(key string) bool) ([]models.CacheEntry, CleanupReport) {
	var (
		report     CleanupReport
		total      int64
		candidates []models.CacheEntry
	)
	recentCutoff := now.Add(-RecentWindow)

	for _, e := range entries {
		total += e.SizeBytes
		switch {
		case pinned != nil && pinned(e.Key):
		case opts.PreserveHighPriority && e.Priority == models.PriorityHigh:
		case opts.PreserveRecentlyAccessed && e.LastAccessedAt.After(recentCutoff):
		default:
			candidates = append(candidates, e)
			continue
		}
		report.ProtectedBytes += e.SizeBytes
	}

	var marked []models.CacheEntry
	projected := total

	var remaining []models.CacheEntry
	if opts.MaxAge > 0 {
		ageCutoff := now.Add(-opts.MaxAge)
		for _, e := range candidates {
			if e.CreatedAt.Before(ageCutoff) {
				marked = append(marked, e)
				projected -= e.SizeBytes
				report.AgedOutCount++
			} else {
				remaining = append(remaining, e)
			}
		}
	} else {
		remaining = append(remaining, candidates...)
	}

	if opts.hasBudget() && projected > opts.BudgetBytes {
		sort.SliceStable(remaining, func(i, j int) bool {
			a, b := remaining[i], remaining[j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
				return a.LastAccessedAt.Before(b.LastAccessedAt)
			}
			return a.Key < b.Key
		})
		for _, e := range remaining {
			if projected <= opts.BudgetBytes {
				break
			}
			marked = append(marked, e)
			projected -= e.SizeBytes
		}
	}

	report.DeletedCount = len(marked)
	report.DeletedBytes = total - projected
	report.ResidentBytes = projected
	report.ExcessBytes = opts.excess(projected)
	return marked, report
}

func (o CleanupOptions) hasBudget() bool {
	return o.BudgetBytes >= 0
}

// excess is how far resident bytes sit above the budget.
func (o CleanupOptions) excess(resident int64) int64 {
	if o.hasBudget() && resident > o.BudgetBytes {
		return resident - o.BudgetBytes
	}
	return 0
}
