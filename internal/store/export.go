package store

import (
	"database/sql"

	"github.com/dkarpov/omrscore/internal/model"
)

// LatestBatch returns the most recently created batch with all its rows.
// Returns nil when the store holds no batches.
func (s *Store) LatestBatch() (*model.BatchReport, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM batches ORDER BY created_at DESC, id LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetBatch(id)
}
