package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityTable names one of the domain record collections.
type EntityTable string

const (
	TableCategories EntityTable = "categories"
	TableExercises  EntityTable = "exercises"
	TableBlocks     EntityTable = "blocks"
	TableTemplates  EntityTable = "templates"
)

// Tables lists every entity table in dependency order: a template refers
// to blocks, a block to exercises, an exercise to a category.
var Tables = []EntityTable{TableCategories, TableExercises, TableBlocks, TableTemplates}

// Valid reports whether t is a known table.
func (t EntityTable) Valid() bool {
	switch t {
	case TableCategories, TableExercises, TableBlocks, TableTemplates:
		return true
	}
	return false
}

// ParseTable converts a string to an EntityTable.
func ParseTable(s string) (EntityTable, error) {
	t := EntityTable(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity table %q", s)
	}
	return t, nil
}

// Fields is the typed payload of an EntityRecord. Each table has exactly
// one implementation.
type Fields interface {
	Table() EntityTable
	Validate() error
}

// CategoryFields describes a category row.
type CategoryFields struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	SortOrder int    `json:"sort_order"`
}

func (CategoryFields) Table() EntityTable { return TableCategories }

func (f CategoryFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("category name is required")
	}
	return nil
}

// ExerciseFields describes an exercise row.
type ExerciseFields struct {
	Name            string   `json:"name"`
	CategoryID      string   `json:"category_id,omitempty"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	VideoURL        string   `json:"video_url,omitempty"`
	DefaultSets     int      `json:"default_sets,omitempty"`
	DefaultReps     int      `json:"default_reps,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
}

func (ExerciseFields) Table() EntityTable { return TableExercises }

func (f ExerciseFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("exercise name is required")
	}
	if f.DefaultSets < 0 || f.DefaultReps < 0 || f.DurationSeconds < 0 {
		return fmt.Errorf("exercise sets, reps and duration must not be negative")
	}
	return nil
}

// BlockFields describes a block: an ordered group of exercises performed
// for a number of rounds.
type BlockFields struct {
	Name        string   `json:"name"`
	ExerciseIDs []string `json:"exercise_ids"`
	Rounds      int      `json:"rounds"`
	RestSeconds int      `json:"rest_seconds,omitempty"`
}

func (BlockFields) Table() EntityTable { return TableBlocks }

func (f BlockFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("block name is required")
	}
	if f.Rounds < 0 || f.RestSeconds < 0 {
		return fmt.Errorf("block rounds and rest must not be negative")
	}
	return nil
}

// TemplateFields describes a workout template built from blocks.
type TemplateFields struct {
	Name             string   `json:"name"`
	BlockIDs         []string `json:"block_ids"`
	Notes            string   `json:"notes,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
}

func (TemplateFields) Table() EntityTable { return TableTemplates }

func (f TemplateFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	return nil
}

// DecodeFields decodes a JSON payload into the Fields type of table.
func DecodeFields(table EntityTable, raw json.RawMessage) (Fields, error) {
	var (
		f   Fields
		err error
	)
	switch table {
	case TableCategories:
		var v CategoryFields
		err = json.Unmarshal(raw, &v)
		f = v
	case TableExercises:
		var v ExerciseFields
		err = json.Unmarshal(raw, &v)
		f = v
	case TableBlocks:
		var v BlockFields
		err = json.Unmarshal(raw, &v)
		f = v
	case TableTemplates:
		var v TemplateFields
		err = json.Unmarshal(raw, &v)
		f = v
	default:
		return nil, fmt.Errorf("unknown entity table %q", table)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", table, err)
	}
	return f, nil
}

// IndexKeys returns the secondary index entries a record contributes,
// keyed by index name.
func IndexKeys(f Fields) map[string][]string {
	switch v := f.(type) {
	case ExerciseFields:
		keys := map[string][]string{}
		if v.CategoryID != "" {
			keys[IndexCategoryID] = []string{v.CategoryID}
		}
		if len(v.Tags) > 0 {
			keys[IndexTag] = normalizeTags(v.Tags)
		}
		return keys
	case BlockFields:
		return map[string][]string{IndexExerciseID: dedupe(v.ExerciseIDs)}
	case TemplateFields:
		return map[string][]string{IndexBlockID: dedupe(v.BlockIDs)}
	}
	return nil
}

// Secondary index names.
const (
	IndexCategoryID = "category_id"
	IndexTag        = "tag"
	IndexExerciseID = "exercise_id"
	IndexBlockID    = "block_id"
)

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
