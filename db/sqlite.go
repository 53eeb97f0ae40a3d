package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TrainingRecord is one row of the training log. Metric columns are only set
// for the problem type they apply to.
type TrainingRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Filename     string    `json:"filename"`
	TargetColumn string    `json:"target_column"`
	ProblemType  string    `json:"problem_type"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	RMSE         *float64  `json:"rmse,omitempty"`
	R2           *float64  `json:"r2,omitempty"`
	TrainingRows int       `json:"training_rows"`
	FeatureCount int       `json:"feature_count"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Store keeps the training and prediction logs in sqlite3 or postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and creates the tables when missing.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite3":
		dsn = sqliteDSN(dsn)
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(10)
		database.SetMaxIdleConns(5)
	}

	s := &Store{db: database, driver: driver}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000"
}

func (s *Store) migrate() error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	if s.driver == "postgres" {
		id, ts = "SERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS training_log (
        id ` + id + `,
        run_id TEXT NOT NULL,
        filename TEXT NOT NULL DEFAULT '',
        target_column TEXT NOT NULL,
        problem_type TEXT NOT NULL,
        status TEXT NOT NULL,
        error TEXT NOT NULL DEFAULT '',
        accuracy REAL,
        rmse REAL,
        r2 REAL,
        training_rows INTEGER NOT NULL DEFAULT 0,
        feature_count INTEGER NOT NULL DEFAULT 0,
        trained_at ` + ts + ` NOT NULL
    )`,
		`CREATE TABLE IF NOT EXISTS prediction_log (
        id ` + id + `,
        run_id TEXT NOT NULL,
        row_count INTEGER NOT NULL,
        created_at ` + ts + ` NOT NULL
    )`,
		`CREATE INDEX IF NOT EXISTS idx_prediction_log_run ON prediction_log (run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveTrainingLog appends a training run and sets rec.ID.
func (s *Store) SaveTrainingLog(ctx context.Context, rec *TrainingRecord) error {
	if rec == nil {
		return errors.New("nil training record")
	}
	if rec.TrainedAt.IsZero() {
		rec.TrainedAt = time.Now()
	}
	query := `
        INSERT INTO training_log (
            run_id, filename, target_column, problem_type, status, error,
            accuracy, rmse, r2, training_rows, feature_count, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		rec.RunID, rec.Filename, rec.TargetColumn, rec.ProblemType, rec.Status, rec.Error,
		nullable(rec.Accuracy), nullable(rec.RMSE), nullable(rec.R2),
		rec.TrainingRows, rec.FeatureCount, rec.TrainedAt.UTC(),
	}

	if s.driver == "postgres" {
		return s.db.QueryRowContext(ctx, s.rebind(query)+" RETURNING id", args...).Scan(&rec.ID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// LoadTrainingLog returns the most recent runs first.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
        SELECT id, run_id, filename, target_column, problem_type, status, error,
               accuracy, rmse, r2, training_rows, feature_count, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]TrainingRecord, 0)
	for rows.Next() {
		var rec TrainingRecord
		var accuracy, rmse, r2 sql.NullFloat64
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Filename, &rec.TargetColumn, &rec.ProblemType,
			&rec.Status, &rec.Error, &accuracy, &rmse, &r2, &rec.TrainingRows, &rec.FeatureCount, &rec.TrainedAt)
		if err != nil {
			return nil, err
		}
		rec.Accuracy = fromNull(accuracy)
		rec.RMSE = fromNull(rmse)
		rec.R2 = fromNull(r2)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SavePredictionLog records a served prediction batch.
func (s *Store) SavePredictionLog(ctx context.Context, runID string, rowCount int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO prediction_log (run_id, row_count, created_at)
        VALUES (?, ?, ?)`), runID, rowCount, at.UTC())
	return err
}

// PredictionCount sums the rows predicted by a training run.
func (s *Store) PredictionCount(ctx context.Context, runID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`
        SELECT SUM(row_count) FROM prediction_log WHERE run_id = ?`), runID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
