package orchestrator

import (
	"sync"

	"github.com/ternarybob/reperio/internal/models"
)

// Merge folds an incoming batch of result items into an existing
// collection without duplication. Items whose ID is already present are
// ignored; first-seen items keep their arrival order. With prepend set,
// new items go in front of the existing collection (newest-first
// dashboards), otherwise they are appended.
//
// Merge is pure: it never mutates its inputs and has no failure mode.
func Merge(existing, incoming []models.ResultItem, prepend bool) []models.ResultItem {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item.ID] = struct{}{}
	}

	fresh := make([]models.ResultItem, 0, len(incoming))
	for _, item := range incoming {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}

	if len(fresh) == 0 {
		return existing
	}

	merged := make([]models.ResultItem, 0, len(existing)+len(fresh))
	if prepend {
		merged = append(merged, fresh...)
		merged = append(merged, existing...)
	} else {
		merged = append(merged, existing...)
		merged = append(merged, fresh...)
	}
	return merged
}

// ResultSet is the shared collection merged into by every active poll
// loop. Updates are whole-collection replacements (read current,
// compute next, publish next) so interleaved merges never lose items.
type ResultSet struct {
	mu      sync.RWMutex
	items   []models.ResultItem
	prepend bool
}

// NewResultSet creates a result set; prepend selects newest-first order
// for newly merged items.
func NewResultSet(prepend bool) *ResultSet {
	return &ResultSet{prepend: prepend}
}

// Apply merges a batch and returns only the items that were new.
func (s *ResultSet) Apply(batch []models.ResultItem) []models.ResultItem {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.items)
	merged := Merge(s.items, batch, s.prepend)
	if len(merged) == before {
		return nil
	}

	var fresh []models.ResultItem
	if s.prepend {
		fresh = merged[:len(merged)-before]
	} else {
		fresh = merged[before:]
	}
	s.items = merged
	return fresh
}

// Snapshot returns a copy of the current collection.
func (s *ResultSet) Snapshot() []models.ResultItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ResultItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the current collection size.
func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear empties the collection, used on project scope changes.
func (s *ResultSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}
