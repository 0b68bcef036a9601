package catalog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/storage/models"
	"github.com/game-insight/backend/pkg/logger"
)

// Corpus is an immutable, ordered snapshot of game records. Position i is the
// row and column i of any similarity matrix built from it.
type Corpus struct {
	records []models.GameRecord
}

func NewCorpus(records []models.GameRecord) *Corpus {
	return &Corpus{records: append([]models.GameRecord(nil), records...)}
}

// LoadCorpus reads an enriched catalog. A missing file yields ErrNotFound so
// the caller can abort before building anything.
func LoadCorpus(path, titleColumn string) (*Corpus, error) {
	table, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	for _, column := range models.MetadataColumns {
		if !table.HasColumn(column) {
			logger.Warn("Catalog column missing, treating values as empty",
				zap.String("path", path),
				zap.String("column", column),
			)
		}
	}

	records, err := table.Records(titleColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus from %s: %w", path, err)
	}

	logger.Info("Corpus loaded", zap.String("path", path), zap.Int("games", len(records)))
	return NewCorpus(records), nil
}

func (c *Corpus) Len() int {
	return len(c.records)
}

func (c *Corpus) Record(i int) models.GameRecord {
	return c.records[i]
}

func (c *Corpus) Titles() []string {
	titles := make([]string, len(c.records))
	for i, r := range c.records {
		titles[i] = r.Title
	}
	return titles
}

// FeatureTexts returns one vectorizer input per record, in corpus order.
func (c *Corpus) FeatureTexts() []string {
	texts := make([]string, len(c.records))
	for i, r := range c.records {
		texts[i] = r.FeatureText()
	}
	return texts
}
