// Package enrichment fills in genre, description and player mode for catalog
// rows by asking a completion service about each title.
package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/llm"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/internal/storage/models"
	"github.com/game-insight/backend/pkg/logger"
	"github.com/game-insight/backend/pkg/utils"
)

// RunRecorder persists run and row history. Recording failures are logged
// and never stop the stage.
type RunRecorder interface {
	StartRun(ctx context.Context, run *models.EnrichmentRun) error
	RecordRow(ctx context.Context, runID string, outcome models.RowOutcome) error
	FinishRun(ctx context.Context, run *models.EnrichmentRun) error
}

// ReplyCache stores completion replies keyed by a hash of model and prompt.
type ReplyCache interface {
	GetReply(ctx context.Context, hash string) (string, bool, error)
	SetReply(ctx context.Context, hash, model, reply string) error
}

type Config struct {
	TitleColumn string
	// Delay follows every completion request, successful or not.
	Delay time.Duration
	// RetryErrors makes rows marked as failed eligible again.
	RetryErrors bool
	Model       string
	InputPath   string
	OutputPath  string
}

type Result struct {
	Table    *catalog.Table
	Outcomes []models.RowOutcome
	Run      models.EnrichmentRun
}

type Stage struct {
	completer llm.Completer
	recorder  RunRecorder
	cache     ReplyCache
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

type Option func(*Stage)

// WithSleep replaces the wait between requests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Stage) { s.sleep = fn }
}

// WithReplyCache reuses replies that parsed into metadata. Replies that fail
// to parse are never stored, so failed rows reach the service again.
func WithReplyCache(cache ReplyCache) Option {
	return func(s *Stage) { s.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(s *Stage) { s.now = now }
}

// NewStage builds an enrichment stage. recorder may be nil.
func NewStage(completer llm.Completer, recorder RunRecorder, cfg Config, opts ...Option) *Stage {
	if cfg.TitleColumn == "" {
		cfg.TitleColumn = "game_title"
	}
	s := &Stage{
		completer: completer,
		recorder:  recorder,
		cfg:       cfg,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NeedsEnrichment reports whether a row should be sent to the completion
// service. Rows with a genre are done, except failed rows when retryErrors is
// set.
func NeedsEnrichment(rec models.GameRecord, retryErrors bool) bool {
	if rec.Failed() {
		return retryErrors
	}
	return rec.Genre == ""
}

// Run enriches a copy of table and returns it with per-row outcomes. table
// is not modified. Cancelling ctx stops after the current row; the result
// then holds the partial table and Run.Interrupted is set.
func (s *Stage) Run(ctx context.Context, table *catalog.Table) (*Result, error) {
	if !table.HasColumn(s.cfg.TitleColumn) {
		return nil, fmt.Errorf("%w: %q", catalog.ErrMissingColumn, s.cfg.TitleColumn)
	}

	out := table.Clone()
	for _, column := range models.MetadataColumns {
		out.EnsureColumn(column)
	}

	run := models.EnrichmentRun{
		ID:        uuid.New().String(),
		Input:     s.cfg.InputPath,
		Output:    s.cfg.OutputPath,
		Model:     s.cfg.Model,
		Total:     out.Len(),
		StartedAt: s.now().UTC(),
	}
	s.startRun(ctx, &run)

	logger.Info("Enrichment started",
		zap.String("run_id", run.ID),
		zap.Int("rows", run.Total),
		zap.Bool("retry_errors", s.cfg.RetryErrors),
	)

	var outcomes []models.RowOutcome
	for i := 0; i < out.Len(); i++ {
		if ctx.Err() != nil {
			run.Interrupted = true
			break
		}

		rec := out.Record(i, s.cfg.TitleColumn)
		if !NeedsEnrichment(rec, s.cfg.RetryErrors) {
			run.Skipped++
			metrics.EnrichmentRows.WithLabelValues("skipped").Inc()
			continue
		}

		outcome, err := s.enrichRow(ctx, out, i, rec.Title)
		if err != nil {
			// Cancelled mid-request: leave the row for the next run.
			run.Interrupted = true
			break
		}
		outcomes = append(outcomes, outcome)
		s.recordRow(ctx, run.ID, outcome)

		if outcome.Status == models.StatusOK {
			run.Succeeded++
		} else {
			run.Failed++
		}
		metrics.EnrichmentRows.WithLabelValues(string(outcome.Status)).Inc()

		if outcome.Cached {
			continue
		}
		if err := s.sleep(ctx, s.cfg.Delay); err != nil {
			run.Interrupted = true
			break
		}
	}

	run.FinishedAt = s.now().UTC()
	s.finishRun(ctx, &run)

	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
	}
	if run.Interrupted {
		logger.Warn("Enrichment interrupted, keeping partial results", fields...)
	} else {
		logger.Info("Enrichment finished", fields...)
	}

	return &Result{Table: out, Outcomes: outcomes, Run: run}, nil
}

// enrichRow requests and writes metadata for row i. A non-nil error means
// ctx ended during the request and the row was left untouched.
func (s *Stage) enrichRow(ctx context.Context, table *catalog.Table, i int, title string) (models.RowOutcome, error) {
	outcome := models.RowOutcome{Row: i, Title: title}
	start := s.now()

	meta, cached, rowErr := s.fetch(ctx, title)
	outcome.LatencyMS = int(s.now().Sub(start).Milliseconds())

	if rowErr != nil {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		logger.Warn("Enrichment failed for title",
			zap.String("title", title),
			zap.String("kind", string(rowErr.Kind)),
			zap.Error(rowErr.Err),
		)
		table.Set(i, models.ColumnGenre, models.GenreError)
		table.Set(i, models.ColumnStatus, string(models.StatusError))
		table.Set(i, models.ColumnStatusMessage, rowErr.Error())

		outcome.Status = models.StatusError
		outcome.ErrorKind = rowErr.Kind
		outcome.Message = rowErr.Error()
		return outcome, nil
	}

	table.Set(i, models.ColumnGenre, meta.Genre)
	table.Set(i, models.ColumnShortDescription, meta.ShortDescription)
	table.Set(i, models.ColumnPlayerMode, string(meta.PlayerMode))
	table.Set(i, models.ColumnStatus, string(models.StatusOK))
	table.Set(i, models.ColumnStatusMessage, "")

	logger.Debug("Title enriched",
		zap.String("title", title),
		zap.String("genre", meta.Genre),
		zap.String("player_mode", string(meta.PlayerMode)),
	)

	outcome.Status = models.StatusOK
	outcome.Metadata = meta
	outcome.Cached = cached
	return outcome, nil
}

// fetch returns metadata for title and whether it came from the reply cache.
func (s *Stage) fetch(ctx context.Context, title string) (models.Metadata, bool, *RowError) {
	prompt, err := BuildPrompt(title)
	if err != nil {
		return models.Metadata{}, false, &RowError{Kind: models.ErrorKindCompletion, Err: err}
	}

	hash := utils.HashKey(s.cfg.Model, prompt)
	if meta, ok := s.cachedMetadata(ctx, hash, title); ok {
		return meta, true, nil
	}

	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return models.Metadata{}, false, &RowError{Kind: models.ErrorKindCompletion, Err: err}
	}

	meta, err := ParseReply(reply)
	if err != nil {
		return models.Metadata{}, false, &RowError{Kind: models.ErrorKindParse, Err: err}
	}

	if s.cache != nil {
		if err := s.cache.SetReply(ctx, hash, s.cfg.Model, reply); err != nil {
			logger.Warn("Reply cache write failed", zap.String("title", title), zap.Error(err))
		}
	}
	return meta, false, nil
}

// cachedMetadata returns metadata from a cached reply. Read failures and
// unparseable entries count as misses.
func (s *Stage) cachedMetadata(ctx context.Context, hash, title string) (models.Metadata, bool) {
	if s.cache == nil {
		return models.Metadata{}, false
	}
	reply, ok, err := s.cache.GetReply(ctx, hash)
	if err != nil {
		logger.Warn("Reply cache read failed", zap.String("title", title), zap.Error(err))
		return models.Metadata{}, false
	}
	if !ok {
		return models.Metadata{}, false
	}
	meta, err := ParseReply(reply)
	if err != nil {
		logger.Debug("Ignoring unparseable cached reply", zap.String("title", title), zap.Error(err))
		return models.Metadata{}, false
	}
	return meta, true
}

// RunFile reads the catalog at InputPath, enriches it and writes the result
// to OutputPath, replacing it. Setup failures return before anything is
// written. An interrupted run still writes its partial table.
func (s *Stage) RunFile(ctx context.Context) (*Result, error) {
	table, err := catalog.ReadFile(s.cfg.InputPath)
	if err != nil {
		return nil, err
	}

	result, err := s.Run(ctx, table)
	if err != nil {
		return nil, err
	}

	if err := result.Table.WriteFile(s.cfg.OutputPath); err != nil {
		return result, fmt.Errorf("failed to write enriched catalog: %w", err)
	}

	logger.Info("Enriched catalog saved", zap.String("path", s.cfg.OutputPath))
	return result, nil
}

func (s *Stage) startRun(ctx context.Context, run *models.EnrichmentRun) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.StartRun(ctx, run); err != nil {
		logger.Warn("Failed to record run start", zap.Error(err))
	}
}

func (s *Stage) recordRow(ctx context.Context, runID string, outcome models.RowOutcome) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRow(ctx, runID, outcome); err != nil {
		logger.Warn("Failed to record row", zap.Int("row", outcome.Row), zap.Error(err))
	}
}

func (s *Stage) finishRun(ctx context.Context, run *models.EnrichmentRun) {
	if s.recorder == nil {
		return
	}
	// The run summary is written even after cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := s.recorder.FinishRun(ctx, run); err != nil {
		logger.Warn("Failed to record run finish", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
