package records

import (
	"strings"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// NameContains matches records whose name contains s, ignoring case.
func NameContains(s string) Predicate {
	s = strings.ToLower(s)
	return func(r models.EntityRecord) bool {
		return strings.Contains(strings.ToLower(nameOf(r.Fields)), s)
	}
}

// UpdatedSince matches records updated at or after t.
func UpdatedSince(t time.Time) Predicate {
	ms := models.Millis(t)
	return func(r models.EntityRecord) bool {
		return models.Millis(r.UpdatedAt) >= ms
	}
}

// InCategory matches exercises of the given category.
func InCategory(categoryID string) Predicate {
	return func(r models.EntityRecord) bool {
		ex, ok := r.Fields.(models.ExerciseFields)
		return ok && ex.CategoryID == categoryID
	}
}

func nameOf(f models.Fields) string {
	switch v := f.(type) {
	case models.CategoryFields:
		return v.Name
	case models.ExerciseFields:
		return v.Name
	case models.BlockFields:
		return v.Name
	case models.TemplateFields:
		return v.Name
	}
	return ""
}
