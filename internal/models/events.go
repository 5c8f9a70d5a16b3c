package models

// ResultsMergedEvent is published when a poll response contributed new
// result items to the shared collection.
type ResultsMergedEvent struct {
	TargetID int `json:"target_id"`
	Count    int `json:"count"`
}

// ProjectChangedEvent is published when the orchestration scope moves
// to a different project.
type ProjectChangedEvent struct {
	Project string `json:"project"`
}
