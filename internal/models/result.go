package models

import "time"

// ResultKind distinguishes what a ResultItem describes
type ResultKind string

const (
	ResultKindPage     ResultKind = "page"      // a page with forms, reported by discovery
	ResultKindFormPath ResultKind = "form_path" // a mapped submission path, reported by mapping
)

// ResultItem is an entity produced by a remote job: a discovered page
// or a mapped form path. Identity comes from the agent; the merged
// collection never holds two items with the same ID, and items are
// immutable once merged.
type ResultItem struct {
	ID         string                 `json:"id"`
	TargetID   int                    `json:"target_id"`
	Kind       ResultKind             `json:"kind"`
	URL        string                 `json:"url"`
	Title      string                 `json:"title,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"` // kind-specific payload (form count, field map, ...)
	ReportedAt time.Time              `json:"reported_at,omitempty"`
}
