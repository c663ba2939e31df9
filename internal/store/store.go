package store

import (
	"database/sql"
	"fmt"

	"github.com/dkarpov/omrscore/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		exam_name TEXT NOT NULL,
		exam_date TEXT NOT NULL DEFAULT '',
		total_questions INTEGER NOT NULL,
		passing_score REAL NOT NULL,
		scored_count INTEGER NOT NULL,
		skipped_count INTEGER NOT NULL,
		passed_count INTEGER NOT NULL,
		failed_count INTEGER NOT NULL,
		pass_rate REAL NOT NULL,
		mean_percentage REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sheet_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		correct INTEGER NOT NULL,
		incorrect INTEGER NOT NULL,
		blank INTEGER NOT NULL,
		points REAL NOT NULL,
		percentage REAL NOT NULL,
		passed INTEGER NOT NULL,
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS question_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sheet_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		expected TEXT NOT NULL,
		detected TEXT NOT NULL,
		status TEXT NOT NULL,
		truncated INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (sheet_id) REFERENCES sheet_scores(id)
	);

	CREATE TABLE IF NOT EXISTS skipped_sheets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		reason TEXT NOT NULL,
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBatch persists a batch report with all sheet and question rows.
func (s *Store) SaveBatch(rep model.BatchReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO batches (id, exam_name, exam_date, total_questions, passing_score,
		                      scored_count, skipped_count, passed_count, failed_count,
		                      pass_rate, mean_percentage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.ExamName, rep.ExamDate, rep.TotalQuestions, rep.PassingScore,
		rep.ScoredCount, rep.SkippedCount, rep.PassedCount, rep.FailedCount,
		rep.PassRate, rep.MeanPercentage, rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, sheet := range rep.Sheets {
		res, err := tx.Exec(
			`INSERT INTO sheet_scores (batch_id, filename, correct, incorrect, blank, points, percentage, passed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.ID, sheet.Filename, sheet.Correct, sheet.Incorrect, sheet.Blank,
			sheet.Points, sheet.Percentage, sheet.Passed,
		)
		if err != nil {
			return fmt.Errorf("insert sheet %s: %w", sheet.Filename, err)
		}
		sheetID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, q := range sheet.Questions {
			_, err := tx.Exec(
				`INSERT INTO question_results (sheet_id, number, expected, detected, status, truncated)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				sheetID, q.Number, q.Expected, q.Detected, q.Status, q.Truncated,
			)
			if err != nil {
				return fmt.Errorf("insert question %d of %s: %w", q.Number, sheet.Filename, err)
			}
		}
	}

	for _, sk := range rep.Skipped {
		_, err := tx.Exec(
			`INSERT INTO skipped_sheets (batch_id, filename, reason) VALUES (?, ?, ?)`,
			rep.ID, sk.Filename, sk.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert skipped %s: %w", sk.Filename, err)
		}
	}

	return tx.Commit()
}

// GetBatch returns one batch with its sheets, question rows, and skips.
// Returns nil when no batch has the given ID.
func (s *Store) GetBatch(id string) (*model.BatchReport, error) {
	var rep model.BatchReport
	err := s.db.QueryRow(
		`SELECT id, exam_name, exam_date, total_questions, passing_score,
		        scored_count, skipped_count, passed_count, failed_count,
		        pass_rate, mean_percentage, created_at
		 FROM batches WHERE id = ?`, id,
	).Scan(&rep.ID, &rep.ExamName, &rep.ExamDate, &rep.TotalQuestions, &rep.PassingScore,
		&rep.ScoredCount, &rep.SkippedCount, &rep.PassedCount, &rep.FailedCount,
		&rep.PassRate, &rep.MeanPercentage, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sheets, err := s.sheetsForBatch(id)
	if err != nil {
		return nil, err
	}
	rep.Sheets = sheets

	skipped, err := s.skippedForBatch(id)
	if err != nil {
		return nil, err
	}
	rep.Skipped = skipped

	return &rep, nil
}

func (s *Store) sheetsForBatch(batchID string) ([]model.SheetScore, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, correct, incorrect, blank, points, percentage, passed
		 FROM sheet_scores WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []model.SheetScore
	var ids []int64
	for rows.Next() {
		var sheet model.SheetScore
		var sheetID int64
		if err := rows.Scan(&sheetID, &sheet.Filename, &sheet.Correct, &sheet.Incorrect,
			&sheet.Blank, &sheet.Points, &sheet.Percentage, &sheet.Passed); err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
		ids = append(ids, sheetID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, sheetID := range ids {
		questions, err := s.questionsForSheet(sheetID)
		if err != nil {
			return nil, err
		}
		sheets[i].Questions = questions
	}
	return sheets, nil
}

func (s *Store) questionsForSheet(sheetID int64) ([]model.ScoredQuestion, error) {
	rows, err := s.db.Query(
		`SELECT number, expected, detected, status, truncated
		 FROM question_results WHERE sheet_id = ? ORDER BY number`, sheetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.ScoredQuestion
	for rows.Next() {
		var q model.ScoredQuestion
		if err := rows.Scan(&q.Number, &q.Expected, &q.Detected, &q.Status, &q.Truncated); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) skippedForBatch(batchID string) ([]model.SkippedSheet, error) {
	rows, err := s.db.Query(
		`SELECT filename, reason FROM skipped_sheets WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skipped []model.SkippedSheet
	for rows.Next() {
		var sk model.SkippedSheet
		if err := rows.Scan(&sk.Filename, &sk.Reason); err != nil {
			return nil, err
		}
		skipped = append(skipped, sk)
	}
	return skipped, rows.Err()
}

// ListBatches returns batch summaries, newest first. Sheet and skip rows
// are not loaded; use GetBatch for the full report.
func (s *Store) ListBatches() ([]model.BatchReport, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_name, exam_date, total_questions, passing_score,
		        scored_count, skipped_count, passed_count, failed_count,
		        pass_rate, mean_percentage, created_at
		 FROM batches ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []model.BatchReport
	for rows.Next() {
		var rep model.BatchReport
		if err := rows.Scan(&rep.ID, &rep.ExamName, &rep.ExamDate, &rep.TotalQuestions, &rep.PassingScore,
			&rep.ScoredCount, &rep.SkippedCount, &rep.PassedCount, &rep.FailedCount,
			&rep.PassRate, &rep.MeanPercentage, &rep.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, rep)
	}
	return batches, rows.Err()
}

// BatchCount returns the number of stored batches.
func (s *Store) BatchCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM batches`).Scan(&count)
	return count, err
}
