package models

import (
	"strings"
	"time"
)

// Column names shared by the enrichment output and the recommendation input.
const (
	ColumnGenre            = "genre"
	ColumnShortDescription = "short_description"
	ColumnPlayerMode       = "player_mode"
	ColumnStatus           = "enrichment_status"
	ColumnStatusMessage    = "enrichment_error"
)

// MetadataColumns are the fields written by the enrichment stage.
var MetadataColumns = []string{ColumnGenre, ColumnShortDescription, ColumnPlayerMode}

const (
	// GenreError marks a row whose enrichment failed.
	GenreError = "ERROR"
	// NotAvailable is written for keys missing from a completion reply.
	NotAvailable = "N/A"
)

type PlayerMode string

const (
	PlayerModeSingleplayer PlayerMode = "Singleplayer"
	PlayerModeMultiplayer  PlayerMode = "Multiplayer"
	PlayerModeBoth         PlayerMode = "Both"
	PlayerModeUnknown      PlayerMode = NotAvailable
	PlayerModeError        PlayerMode = GenreError
)

// Known reports whether the mode is one of the values the prompt asks for.
func (m PlayerMode) Known() bool {
	switch m {
	case PlayerModeSingleplayer, PlayerModeMultiplayer, PlayerModeBoth:
		return true
	}
	return false
}

type EnrichmentStatus string

const (
	StatusPending EnrichmentStatus = ""
	StatusOK      EnrichmentStatus = "ok"
	StatusError   EnrichmentStatus = "error"
)

type ErrorKind string

const (
	ErrorKindCompletion ErrorKind = "completion"
	ErrorKindParse      ErrorKind = "parse"
)

type GameRecord struct {
	Title            string
	Genre            string
	ShortDescription string
	PlayerMode       PlayerMode
	Status           EnrichmentStatus
	StatusMessage    string
}

// Failed reports whether the record carries an enrichment failure, either as
// structured status or as the legacy ERROR genre.
func (r GameRecord) Failed() bool {
	return r.Status == StatusError || r.Genre == GenreError
}

// FeatureText is the vectorizer input: genre, description and player mode
// joined by single spaces.
func (r GameRecord) FeatureText() string {
	return strings.Join([]string{r.Genre, r.ShortDescription, string(r.PlayerMode)}, " ")
}

// Metadata is the triple produced by one completion reply.
type Metadata struct {
	Genre            string
	ShortDescription string
	PlayerMode       PlayerMode
}

type RowOutcome struct {
	Row       int
	Title     string
	Status    EnrichmentStatus
	ErrorKind ErrorKind
	Message   string
	Metadata  Metadata
	LatencyMS int
	// Cached is set when the metadata came from a stored reply and no
	// request was sent.
	Cached bool
}

type EnrichmentRun struct {
	ID          string
	Input       string
	Output      string
	Model       string
	Total       int
	Skipped     int
	Succeeded   int
	Failed      int
	Interrupted bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

type QueryRecord struct {
	ID        string
	Title     string
	Results   []string
	Found     bool
	LatencyMS int
	CreatedAt time.Time
}
