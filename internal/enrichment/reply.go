package enrichment

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/game-insight/backend/internal/storage/models"
)

var ErrNotObject = errors.New("reply is not a JSON object")

// RowError is a per-row failure. It is recorded on the row and never aborts
// the stage.
type RowError struct {
	Kind models.ErrorKind
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseReply extracts the metadata triple from a completion reply. Keys that
// are missing or null read as N/A.
func ParseReply(reply string) (models.Metadata, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(StripFences(reply)), &fields); err != nil {
		return models.Metadata{}, fmt.Errorf("failed to parse reply: %w", err)
	}
	if fields == nil {
		return models.Metadata{}, ErrNotObject
	}

	return models.Metadata{
		Genre:            field(fields, models.ColumnGenre),
		ShortDescription: field(fields, models.ColumnShortDescription),
		PlayerMode:       models.PlayerMode(field(fields, models.ColumnPlayerMode)),
	}, nil
}

func field(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return models.NotAvailable
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// StripFences returns the body of the first markdown code fence in s, or s
// itself when there is none. The language tag after the opening fence is
// dropped.
func StripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return strings.TrimSpace(s)
	}

	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimLeftFunc(body, unicode.IsLetter)
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
