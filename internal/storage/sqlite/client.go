package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/storage/models"
	"github.com/game-insight/backend/pkg/logger"
)

var ErrRunNotFound = errors.New("enrichment run not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS enrichment_runs (
		id TEXT PRIMARY KEY,
		input_path TEXT,
		output_path TEXT,
		model TEXT,
		total INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		interrupted INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON enrichment_runs(started_at);

	CREATE TABLE IF NOT EXISTS enrichment_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT,
		message TEXT,
		genre TEXT,
		short_description TEXT,
		player_mode TEXT,
		latency_ms INTEGER,
		FOREIGN KEY (run_id) REFERENCES enrichment_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rows_run ON enrichment_rows(run_id);
	CREATE INDEX IF NOT EXISTS idx_rows_title ON enrichment_rows(title);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		results TEXT,
		found INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_title ON query_history(title);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) StartRun(ctx context.Context, run *models.EnrichmentRun) error {
	query := `
		INSERT INTO enrichment_runs (id, input_path, output_path, model, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.Input,
		run.Output,
		run.Model,
		run.Total,
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("Enrichment run recorded", zap.String("run_id", run.ID))
	return nil
}

func (c *Client) RecordRow(ctx context.Context, runID string, outcome models.RowOutcome) error {
	query := `
		INSERT INTO enrichment_rows (run_id, row_index, title, status, error_kind, message,
			genre, short_description, player_mode, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		runID,
		outcome.Row,
		outcome.Title,
		string(outcome.Status),
		string(outcome.ErrorKind),
		outcome.Message,
		outcome.Metadata.Genre,
		outcome.Metadata.ShortDescription,
		string(outcome.Metadata.PlayerMode),
		outcome.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert row outcome: %w", err)
	}
	return nil
}

func (c *Client) FinishRun(ctx context.Context, run *models.EnrichmentRun) error {
	query := `
		UPDATE enrichment_runs
		SET skipped = ?, succeeded = ?, failed = ?, interrupted = ?, finished_at = ?
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query,
		run.Skipped,
		run.Succeeded,
		run.Failed,
		boolToInt(run.Interrupted),
		run.FinishedAt.UnixMilli(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	logger.Info("Enrichment run finished",
		zap.String("run_id", run.ID),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
	)
	return nil
}

const runColumns = `id, input_path, output_path, model, total, skipped, succeeded, failed,
	interrupted, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.EnrichmentRun, error) {
	var run models.EnrichmentRun
	var interrupted int
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.Input,
		&run.Output,
		&run.Model,
		&run.Total,
		&run.Skipped,
		&run.Succeeded,
		&run.Failed,
		&interrupted,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Interrupted = interrupted != 0
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.EnrichmentRun, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM enrichment_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.EnrichmentRun, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM enrichment_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.EnrichmentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (c *Client) ListRowOutcomes(ctx context.Context, runID string) ([]models.RowOutcome, error) {
	query := `
		SELECT row_index, title, status, error_kind, message, genre, short_description, player_mode, latency_ms
		FROM enrichment_rows
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list row outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.RowOutcome
	for rows.Next() {
		var o models.RowOutcome
		var status, kind, mode string
		if err := rows.Scan(
			&o.Row,
			&o.Title,
			&status,
			&kind,
			&o.Message,
			&o.Metadata.Genre,
			&o.Metadata.ShortDescription,
			&mode,
			&o.LatencyMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row outcome: %w", err)
		}
		o.Status = models.EnrichmentStatus(status)
		o.ErrorKind = models.ErrorKind(kind)
		o.Metadata.PlayerMode = models.PlayerMode(mode)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	results, err := json.Marshal(record.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	query := `
		INSERT INTO query_history (id, title, results, found, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Title,
		string(results),
		boolToInt(record.Found),
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("title", record.Title),
		zap.Bool("found", record.Found),
	)
	return nil
}

// GetQueryHistory returns the most recent queries first. An empty title
// matches every query.
func (c *Client) GetQueryHistory(ctx context.Context, title string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, title, results, found, latency_ms, created_at
		FROM query_history
		WHERE (? = '' OR title = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, title, title, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var results string
		var found int
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.Title, &results, &found, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan query record: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
		r.Found = found != 0
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
