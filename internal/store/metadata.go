package store

import "database/sql"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RecordMarksFile remembers the content hash of a scored marks file and the
// batch it produced, so a repeat run on identical input can be flagged.
func (s *Store) RecordMarksFile(path, hash, batchID string) error {
	if err := s.SetMetadata("marks_hash:"+path, hash); err != nil {
		return err
	}
	return s.SetMetadata("marks_batch:"+path, batchID)
}

// MarksFileSeen reports the prior batch ID if the marks file at path was
// already scored with the same content hash. Empty string means not seen.
func (s *Store) MarksFileSeen(path, hash string) (string, error) {
	stored, err := s.GetMetadata("marks_hash:" + path)
	if err != nil {
		return "", err
	}
	if stored == "" || stored != hash {
		return "", nil
	}
	return s.GetMetadata("marks_batch:" + path)
}
