package models

// TargetKind distinguishes the two units of work the agent accepts
type TargetKind string

const (
	TargetKindEnvironment TargetKind = "environment" // a site environment to discover
	TargetKindForm        TargetKind = "form"        // a discovered form to map
)

// Target identifies one unit of work submitted to the remote agent:
// an environment to crawl for forms, or a single form to map.
// Targets are supplied by the dashboard and never mutated here.
type Target struct {
	ID   int        `json:"id"`
	Name string     `json:"name"` // display only
	Kind TargetKind `json:"kind"`
}

// DiscoveryOptions is the per-environment crawl configuration forwarded
// to the agent when a discovery job starts.
type DiscoveryOptions struct {
	MaxDepth      int  `json:"max_depth,omitempty"`
	MaxPages      int  `json:"max_pages,omitempty"`
	IncludeHidden bool `json:"include_hidden,omitempty"` // also report forms not linked from navigation
}
