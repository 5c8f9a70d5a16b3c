package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage implements the ResultStorage interface for Badger.
// Items are keyed by their agent-assigned ID, so re-saving a merged
// batch is idempotent.
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ResultStorage) SaveResults(ctx context.Context, items []models.ResultItem) error {
	for i := range items {
		if items[i].ID == "" {
			return fmt.Errorf("result item ID is required")
		}
		if err := s.db.Store().Upsert(items[i].ID, &items[i]); err != nil {
			return fmt.Errorf("failed to save result item: %w", err)
		}
	}
	return nil
}

func (s *ResultStorage) ListResults(ctx context.Context, targetID int, limit int) ([]*models.ResultItem, error) {
	query := badgerhold.Where("ID").Ne("")
	if targetID != 0 {
		query = query.And("TargetID").Eq(targetID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []models.ResultItem
	if err := s.db.Store().Find(&items, query); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	result := make([]*models.ResultItem, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

func (s *ResultStorage) CountResults(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ResultItem{}, badgerhold.Where("ID").Ne(""))
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return int(count), nil
}

func (s *ResultStorage) DeleteResultsForTarget(ctx context.Context, targetID int) error {
	if err := s.db.Store().DeleteMatching(&models.ResultItem{}, badgerhold.Where("TargetID").Eq(targetID)); err != nil {
		return fmt.Errorf("failed to delete results for target: %w", err)
	}
	return nil
}
