// Package history keeps terminal workflow outcomes in a DuckDB database.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/dataclean/cleanctl/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id                 VARCHAR PRIMARY KEY,
		attempt            UBIGINT NOT NULL,
		file_name          VARCHAR NOT NULL,
		file_type          VARCHAR,
		status             VARCHAR NOT NULL,
		total_rows         BIGINT NOT NULL,
		missing_values     BIGINT NOT NULL,
		outliers           BIGINT NOT NULL,
		duplicates         BIGINT NOT NULL,
		normalized_columns VARCHAR NOT NULL,
		processing_time    DOUBLE NOT NULL,
		processed_file     VARCHAR,
		message            VARCHAR,
		finished_at        TIMESTAMP NOT NULL,
		original_file      VARCHAR
	)
`

// Databases created before original_file existed get the column added.
const migrateOriginalFile = `ALTER TABLE runs ADD COLUMN IF NOT EXISTS original_file VARCHAR`

// Store is a run-history database. An empty path keeps it in memory.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Summary aggregates the whole history.
type Summary struct {
	Runs           int     `json:"runs"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	TotalRows      int64   `json:"totalRows"`
	MissingValues  int64   `json:"missingValues"`
	Outliers       int64   `json:"outliers"`
	Duplicates     int64   `json:"duplicates"`
	AverageSeconds float64 `json:"averageSeconds"`
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=1",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	// An in-memory database lives as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}
	if _, err := db.Exec(migrateOriginalFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate runs table: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Record inserts one run.
func (s *Store) Record(ctx context.Context, run models.Run) error {
	if run.Result == nil {
		return fmt.Errorf("run %s has no result", run.ID)
	}
	cols, err := json.Marshal(nonNil(run.Result.Statistics.NormalizedColumns))
	if err != nil {
		return fmt.Errorf("encoding normalized columns: %w", err)
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := run.Result.Statistics
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, attempt, file_name, file_type, status, total_rows, missing_values,
			outliers, duplicates, normalized_columns, processing_time, processed_file, message, finished_at,
			original_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Attempt, run.FileName, run.FileType, string(run.Result.Status),
		stats.TotalRows, stats.MissingValues, stats.Outliers, stats.Duplicates, string(cols),
		run.Result.ProcessingTime, run.Result.ProcessedFile, run.Result.Message, run.FinishedAt.UTC(),
		run.Result.OriginalFile,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-positive limit returns all runs.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, attempt, file_name, file_type, status, total_rows, missing_values, outliers,
			duplicates, normalized_columns, processing_time, processed_file, message, finished_at,
			original_file
		FROM runs
		ORDER BY finished_at DESC, id`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summarize aggregates every recorded run.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'error'),
			CAST(COALESCE(SUM(total_rows), 0) AS BIGINT),
			CAST(COALESCE(SUM(missing_values), 0) AS BIGINT),
			CAST(COALESCE(SUM(outliers), 0) AS BIGINT),
			CAST(COALESCE(SUM(duplicates), 0) AS BIGINT),
			COALESCE(AVG(processing_time), 0)
		FROM runs`).Scan(
		&sum.Runs, &sum.Succeeded, &sum.Failed,
		&sum.TotalRows, &sum.MissingValues, &sum.Outliers, &sum.Duplicates,
		&sum.AverageSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}
	return &sum, nil
}

// Close closes the database. The file is kept.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanRun(rows *sql.Rows) (models.Run, error) {
	var (
		run                     models.Run
		res                     models.ProcessingResult
		fileType, processedFile sql.NullString
		message, originalFile   sql.NullString
		status, cols            string
		total, missing          int64
		outliers, duplicates    int64
	)
	err := rows.Scan(&run.ID, &run.Attempt, &run.FileName, &fileType, &status,
		&total, &missing, &outliers, &duplicates, &cols,
		&res.ProcessingTime, &processedFile, &message, &run.FinishedAt, &originalFile)
	if err != nil {
		return models.Run{}, fmt.Errorf("scanning run: %w", err)
	}

	res.Statistics.NormalizedColumns = []string{}
	if err := json.Unmarshal([]byte(cols), &res.Statistics.NormalizedColumns); err != nil {
		return models.Run{}, fmt.Errorf("decoding normalized columns of run %s: %w", run.ID, err)
	}
	res.OriginalFile = originalFile.String
	if res.OriginalFile == "" {
		res.OriginalFile = run.FileName
	}
	res.Status = models.ResultStatus(status)
	res.Statistics.TotalRows = int(total)
	res.Statistics.MissingValues = int(missing)
	res.Statistics.Outliers = int(outliers)
	res.Statistics.Duplicates = int(duplicates)
	res.ProcessedFile = processedFile.String
	res.Message = message.String

	run.FileType = fileType.String
	run.Result = &res
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
