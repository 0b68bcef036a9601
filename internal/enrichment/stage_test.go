package enrichment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/storage/models"
	"github.com/game-insight/backend/pkg/utils"
)

type fakeCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
	onCall  func(title string)
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	title := titleFromPrompt(prompt)
	f.calls = append(f.calls, title)
	if f.onCall != nil {
		f.onCall(title)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.errs[title]; ok {
		return "", err
	}
	return f.replies[title], nil
}

func titleFromPrompt(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Game: ") {
			return strings.TrimPrefix(line, "Game: ")
		}
	}
	return ""
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

type memoryRecorder struct {
	started  *models.EnrichmentRun
	rows     []models.RowOutcome
	finished *models.EnrichmentRun
}

func (m *memoryRecorder) StartRun(_ context.Context, run *models.EnrichmentRun) error {
	r := *run
	m.started = &r
	return nil
}

func (m *memoryRecorder) RecordRow(_ context.Context, _ string, outcome models.RowOutcome) error {
	m.rows = append(m.rows, outcome)
	return nil
}

func (m *memoryRecorder) FinishRun(_ context.Context, run *models.EnrichmentRun) error {
	r := *run
	m.finished = &r
	return nil
}

func readTable(t *testing.T, csv string) *catalog.Table {
	t.Helper()
	table, err := catalog.Read(strings.NewReader(csv))
	require.NoError(t, err)
	return table
}

func writeTable(t *testing.T, table *catalog.Table) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, table.Write(&buf))
	return buf.String()
}

func newTestStage(completer *fakeCompleter, sleeper *sleepRecorder, cfg Config) *Stage {
	cfg.Delay = 5 * time.Second
	return NewStage(completer, nil, cfg, WithSleep(sleeper.sleep))
}

func TestRunFullyEnrichedTableIsUnchanged(t *testing.T) {
	const input = "game_title,genre,short_description,player_mode\n" +
		"Valorant,Shooter,Tactical 5v5 shooter game.,Multiplayer\n" +
		"Hades,ERROR,,\n"

	completer := &fakeCompleter{}
	sleeper := &sleepRecorder{}
	result, err := newTestStage(completer, sleeper, Config{}).Run(context.Background(), readTable(t, input))
	require.NoError(t, err)

	assert.Empty(t, completer.calls)
	assert.Empty(t, sleeper.calls)
	assert.Equal(t, input, writeTable(t, result.Table))
	assert.Equal(t, 2, result.Run.Skipped)
}

func TestRunEnrichesEmptyRows(t *testing.T) {
	input := readTable(t, "game_title,notes\nValorant,x\nMinecraft,y\n")
	completer := &fakeCompleter{replies: map[string]string{
		"Valorant":  "```json\n{\"genre\": \"Shooter\", \"short_description\": \"Tactical 5v5 shooter game.\", \"player_mode\": \"Multiplayer\"}\n```",
		"Minecraft": `{"genre": "Sandbox", "player_mode": "Both"}`,
	}}
	sleeper := &sleepRecorder{}

	result, err := newTestStage(completer, sleeper, Config{}).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, []string{"Valorant", "Minecraft"}, completer.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.calls)

	out := result.Table
	assert.Equal(t, []string{"game_title", "notes", "genre", "short_description", "player_mode",
		"enrichment_status", "enrichment_error"}, out.Header())
	assert.Equal(t, "Shooter", out.Get(0, models.ColumnGenre))
	assert.Equal(t, "Multiplayer", out.Get(0, models.ColumnPlayerMode))
	assert.Equal(t, "ok", out.Get(0, models.ColumnStatus))
	assert.Equal(t, "x", out.Get(0, "notes"))
	assert.Equal(t, models.NotAvailable, out.Get(1, models.ColumnShortDescription))

	assert.Equal(t, 2, result.Run.Succeeded)
	assert.Len(t, result.Outcomes, 2)

	assert.False(t, input.HasColumn(models.ColumnGenre), "input table must not be modified")
}

func TestRunMarksFailuresAndContinues(t *testing.T) {
	input := readTable(t, "game_title,genre\nBroken,\nOffline,\nCeleste,\n")
	completer := &fakeCompleter{
		replies: map[string]string{
			"Broken":  "I think it is a platformer",
			"Celeste": `{"genre":"Platformer","short_description":"Climb a mountain.","player_mode":"Singleplayer"}`,
		},
		errs: map[string]error{"Offline": errors.New("connection refused")},
	}
	sleeper := &sleepRecorder{}

	result, err := newTestStage(completer, sleeper, Config{}).Run(context.Background(), input)
	require.NoError(t, err)

	out := result.Table
	assert.Equal(t, models.GenreError, out.Get(0, models.ColumnGenre))
	assert.Equal(t, "error", out.Get(0, models.ColumnStatus))
	assert.Contains(t, out.Get(0, models.ColumnStatusMessage), "parse")
	assert.Equal(t, models.GenreError, out.Get(1, models.ColumnGenre))
	assert.Contains(t, out.Get(1, models.ColumnStatusMessage), "connection refused")
	assert.Equal(t, "Platformer", out.Get(2, models.ColumnGenre))

	assert.Len(t, sleeper.calls, 3, "delay follows failed requests too")
	assert.Equal(t, 1, result.Run.Succeeded)
	assert.Equal(t, 2, result.Run.Failed)
	assert.Equal(t, models.ErrorKindParse, result.Outcomes[0].ErrorKind)
	assert.Equal(t, models.ErrorKindCompletion, result.Outcomes[1].ErrorKind)
}

func TestRunRetryErrors(t *testing.T) {
	const input = "game_title,genre,enrichment_status,enrichment_error\nHades,ERROR,error,completion: timeout\nCeleste,Platformer,,\n"
	reply := `{"genre":"Roguelike","short_description":"Escape the underworld.","player_mode":"Singleplayer"}`

	tests := []struct {
		name        string
		retryErrors bool
		wantCalls   []string
		wantGenre   string
		wantStatus  string
	}{
		{"errors stay by default", false, nil, "ERROR", "error"},
		{"errors retried when enabled", true, []string{"Hades"}, "Roguelike", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{replies: map[string]string{"Hades": reply}}
			stage := newTestStage(completer, &sleepRecorder{}, Config{RetryErrors: tt.retryErrors})

			result, err := stage.Run(context.Background(), readTable(t, input))
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, completer.calls)
			assert.Equal(t, tt.wantGenre, result.Table.Get(0, models.ColumnGenre))
			assert.Equal(t, tt.wantStatus, result.Table.Get(0, models.ColumnStatus))
		})
	}
}

type memoryReplyCache struct {
	replies map[string]string
	gets    int
	sets    int
}

func newMemoryReplyCache() *memoryReplyCache {
	return &memoryReplyCache{replies: map[string]string{}}
}

func (m *memoryReplyCache) GetReply(_ context.Context, hash string) (string, bool, error) {
	m.gets++
	r, ok := m.replies[hash]
	return r, ok, nil
}

func (m *memoryReplyCache) SetReply(_ context.Context, hash, _, reply string) error {
	m.sets++
	m.replies[hash] = reply
	return nil
}

func TestRunRetryErrorsWithReplyCache(t *testing.T) {
	cache := newMemoryReplyCache()
	completer := &fakeCompleter{replies: map[string]string{"Hades": "Sorry, I cannot help"}}
	cfg := Config{RetryErrors: true, Model: "gemini-2.0-flash"}
	stage := NewStage(completer, nil, cfg, WithSleep((&sleepRecorder{}).sleep), WithReplyCache(cache))

	first, err := stage.Run(context.Background(), readTable(t, "game_title\nHades\n"))
	require.NoError(t, err)
	assert.Equal(t, models.GenreError, first.Table.Get(0, models.ColumnGenre))
	assert.Zero(t, cache.sets)

	completer.replies["Hades"] = `{"genre":"Roguelike","short_description":"Escape the underworld.","player_mode":"Singleplayer"}`
	second, err := stage.Run(context.Background(), first.Table)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hades", "Hades"}, completer.calls)
	assert.Equal(t, "Roguelike", second.Table.Get(0, models.ColumnGenre))
	assert.Equal(t, string(models.StatusOK), second.Table.Get(0, models.ColumnStatus))
	assert.Equal(t, 1, cache.sets)
}

func TestRunServesParsedRepliesFromCache(t *testing.T) {
	cache := newMemoryReplyCache()
	completer := &fakeCompleter{replies: map[string]string{
		"Valorant": `{"genre":"Shooter","short_description":"Tactical 5v5 shooter game.","player_mode":"Multiplayer"}`,
	}}
	sleeper := &sleepRecorder{}
	cfg := Config{Model: "gemini-2.0-flash", Delay: time.Second}
	stage := NewStage(completer, nil, cfg, WithSleep(sleeper.sleep), WithReplyCache(cache))

	input := readTable(t, "game_title\nValorant\n")
	first, err := stage.Run(context.Background(), input)
	require.NoError(t, err)
	second, err := stage.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, []string{"Valorant"}, completer.calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.calls)
	assert.Equal(t, writeTable(t, first.Table), writeTable(t, second.Table))
	require.Len(t, second.Outcomes, 1)
	assert.True(t, second.Outcomes[0].Cached)
}

func TestRunIgnoresUnparseableCacheEntries(t *testing.T) {
	cache := newMemoryReplyCache()
	prompt, err := BuildPrompt("Hades")
	require.NoError(t, err)
	cache.replies[utils.HashKey("gemini-2.0-flash", prompt)] = "not json"

	completer := &fakeCompleter{replies: map[string]string{"Hades": `{"genre":"Roguelike"}`}}
	stage := NewStage(completer, nil, Config{Model: "gemini-2.0-flash"},
		WithSleep((&sleepRecorder{}).sleep), WithReplyCache(cache))

	result, err := stage.Run(context.Background(), readTable(t, "game_title\nHades\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hades"}, completer.calls)
	assert.Equal(t, "Roguelike", result.Table.Get(0, models.ColumnGenre))
	assert.Equal(t, `{"genre":"Roguelike"}`, cache.replies[utils.HashKey("gemini-2.0-flash", prompt)])
}

func TestRunMissingTitleColumn(t *testing.T) {
	stage := newTestStage(&fakeCompleter{}, &sleepRecorder{}, Config{TitleColumn: "game_title"})
	_, err := stage.Run(context.Background(), readTable(t, "name\nHades\n"))
	assert.ErrorIs(t, err, catalog.ErrMissingColumn)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reply := `{"genre":"Action","short_description":"d","player_mode":"Both"}`
	completer := &fakeCompleter{replies: map[string]string{"A": reply, "B": reply, "C": reply}}
	recorder := &memoryRecorder{}
	stage := NewStage(completer, recorder, Config{}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	result, err := stage.Run(ctx, readTable(t, "game_title\nA\nB\nC\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, completer.calls)
	assert.True(t, result.Run.Interrupted)
	assert.Equal(t, "Action", result.Table.Get(0, models.ColumnGenre))
	assert.Equal(t, "", result.Table.Get(1, models.ColumnGenre))

	require.NotNil(t, recorder.finished)
	assert.True(t, recorder.finished.Interrupted)
	assert.Len(t, recorder.rows, 1)
}

func TestRunCancelledDuringRequestLeavesRowPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := &fakeCompleter{onCall: func(string) { cancel() }}
	stage := newTestStage(completer, &sleepRecorder{}, Config{})

	result, err := stage.Run(ctx, readTable(t, "game_title\nA\nB\n"))
	require.NoError(t, err)

	assert.True(t, result.Run.Interrupted)
	assert.Equal(t, "", result.Table.Get(0, models.ColumnGenre))
	assert.False(t, result.Table.HasColumn(models.ColumnStatus))
	assert.Empty(t, result.Outcomes)
}

func TestRunRecordsLedger(t *testing.T) {
	completer := &fakeCompleter{replies: map[string]string{"A": `{"genre":"Puzzle"}`}}
	recorder := &memoryRecorder{}
	stage := NewStage(completer, recorder, Config{Model: "m", InputPath: "in.csv", OutputPath: "out.csv"},
		WithSleep((&sleepRecorder{}).sleep))

	result, err := stage.Run(context.Background(), readTable(t, "game_title,genre\nA,\nB,Done\n"))
	require.NoError(t, err)

	require.NotNil(t, recorder.started)
	assert.Equal(t, result.Run.ID, recorder.started.ID)
	assert.Equal(t, "in.csv", recorder.started.Input)
	assert.Equal(t, 2, recorder.started.Total)

	require.Len(t, recorder.rows, 1)
	assert.Equal(t, "A", recorder.rows[0].Title)
	assert.Equal(t, models.StatusOK, recorder.rows[0].Status)

	require.NotNil(t, recorder.finished)
	assert.Equal(t, 1, recorder.finished.Succeeded)
	assert.Equal(t, 1, recorder.finished.Skipped)
	assert.False(t, recorder.finished.FinishedAt.IsZero())
}

func TestRunFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw_games.csv")
	out := filepath.Join(dir, "out", "enriched_games.csv")
	require.NoError(t, os.WriteFile(in, []byte("game_title\nTetris\n"), 0o644))

	completer := &fakeCompleter{replies: map[string]string{
		"Tetris": `{"genre":"Puzzle","short_description":"Falling blocks.","player_mode":"Singleplayer"}`,
	}}
	stage := newTestStage(completer, &sleepRecorder{}, Config{InputPath: in, OutputPath: out})

	_, err := stage.RunFile(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "game_title,genre,short_description,player_mode,enrichment_status,enrichment_error\n"+
		"Tetris,Puzzle,Falling blocks.,Singleplayer,ok,\n", string(got))
}

func TestRunFileMissingInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "enriched.csv")
	stage := newTestStage(&fakeCompleter{}, &sleepRecorder{}, Config{
		InputPath:  filepath.Join(dir, "missing.csv"),
		OutputPath: out,
	})

	_, err := stage.RunFile(context.Background())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.NoFileExists(t, out)
}

func TestNeedsEnrichment(t *testing.T) {
	tests := []struct {
		name        string
		rec         models.GameRecord
		retryErrors bool
		want        bool
	}{
		{"empty genre", models.GameRecord{Title: "A"}, false, true},
		{"has genre", models.GameRecord{Genre: "RPG"}, false, false},
		{"legacy error", models.GameRecord{Genre: models.GenreError}, false, false},
		{"legacy error retried", models.GameRecord{Genre: models.GenreError}, true, true},
		{"status error", models.GameRecord{Genre: models.GenreError, Status: models.StatusError}, true, true},
		{"ok with retry", models.GameRecord{Genre: "RPG", Status: models.StatusOK}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsEnrichment(tt.rec, tt.retryErrors))
		})
	}
}
