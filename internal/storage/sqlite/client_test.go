package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-insight/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.InitSchema())
}

func TestRunLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &models.EnrichmentRun{
		ID:        "run-1",
		Input:     "data/raw_games.csv",
		Output:    "data/enriched_games.csv",
		Model:     "gemini-2.0-flash",
		Total:     3,
		StartedAt: started,
	}
	require.NoError(t, c.StartRun(ctx, run))

	require.NoError(t, c.RecordRow(ctx, run.ID, models.RowOutcome{
		Row:    0,
		Title:  "Valorant",
		Status: models.StatusOK,
		Metadata: models.Metadata{
			Genre:            "Shooter",
			ShortDescription: "Tactical 5v5 shooter game.",
			PlayerMode:       models.PlayerModeMultiplayer,
		},
		LatencyMS: 120,
	}))
	require.NoError(t, c.RecordRow(ctx, run.ID, models.RowOutcome{
		Row:       2,
		Title:     "Hades",
		Status:    models.StatusError,
		ErrorKind: models.ErrorKindParse,
		Message:   "parse: unexpected end of JSON input",
	}))

	run.Skipped, run.Succeeded, run.Failed = 1, 1, 1
	run.FinishedAt = started.Add(12 * time.Second)
	require.NoError(t, c.FinishRun(ctx, run))

	got, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	outcomes, err := c.ListRowOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "Valorant", outcomes[0].Title)
	assert.Equal(t, models.PlayerModeMultiplayer, outcomes[0].Metadata.PlayerMode)
	assert.Equal(t, models.ErrorKindParse, outcomes[1].ErrorKind)

	runs, err := c.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestRunNotFound(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = c.FinishRun(ctx, &models.EnrichmentRun{ID: "missing", FinishedAt: time.Now()})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestQueryHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*models.QueryRecord{
		{ID: "q1", Title: "Valorant", Results: []string{"CS2", "Apex Legends"}, Found: true, LatencyMS: 1, CreatedAt: base},
		{ID: "q2", Title: "Pong", Results: []string{"Game 'Pong' not found in database."}, CreatedAt: base.Add(time.Second)},
		{ID: "q3", Title: "Valorant", Results: []string{"CS2"}, Found: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		require.NoError(t, c.InsertQueryRecord(ctx, r))
	}

	all, err := c.GetQueryHistory(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "q3", all[0].ID)
	assert.Equal(t, "q1", all[2].ID)
	assert.Equal(t, []string{"CS2", "Apex Legends"}, all[2].Results)
	assert.True(t, all[2].Found)
	assert.False(t, all[1].Found)
	assert.Equal(t, base, all[2].CreatedAt)

	valorant, err := c.GetQueryHistory(ctx, "Valorant", 1)
	require.NoError(t, err)
	require.Len(t, valorant, 1)
	assert.Equal(t, "q3", valorant[0].ID)
}
