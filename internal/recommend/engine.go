// Package recommend builds TF-IDF vectors over a game corpus and answers
// "games similar to X" from a precomputed cosine similarity matrix.
package recommend

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/pkg/logger"
)

const DefaultTopK = 5

var (
	ErrTitleNotFound = errors.New("title not found")
	ErrEmptyCorpus   = errors.New("corpus is empty")
)

type Options struct {
	Tokenizer Tokenizer
	TopK      int
}

type Recommendation struct {
	Index int     `json:"-"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Engine is immutable after Build and safe for concurrent readers. A changed
// corpus needs a new Build.
type Engine struct {
	corpus  *catalog.Corpus
	vocab   *Vocabulary
	vectors []TermVector
	matrix  [][]float64
	index   map[string]int
	topK    int
}

func Build(corpus *catalog.Corpus, opts Options) (*Engine, error) {
	if corpus == nil || corpus.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = WordTokenizer{}
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	start := time.Now()
	logger.Info("Building TF-IDF matrix", zap.Int("games", corpus.Len()))

	texts := corpus.FeatureTexts()
	docs := make([][]string, len(texts))
	for i, text := range texts {
		tokens, err := opts.Tokenizer.Tokenize(text)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize %q: %w", corpus.Record(i).Title, err)
		}
		docs[i] = tokens
	}

	vocab, vectors := fitTransform(docs)

	logger.Info("Calculating cosine similarity", zap.Int("terms", vocab.Len()))
	matrix := similarityMatrix(vectors)

	// Later rows win for duplicate titles.
	index := make(map[string]int, corpus.Len())
	for i, title := range corpus.Titles() {
		index[title] = i
	}

	elapsed := time.Since(start)
	metrics.MatrixBuildDuration.Observe(elapsed.Seconds())
	metrics.CorpusSize.Set(float64(corpus.Len()))
	metrics.VocabularySize.Set(float64(vocab.Len()))

	logger.Info("Similarity engine ready",
		zap.Int("games", corpus.Len()),
		zap.Int("terms", vocab.Len()),
		zap.Duration("elapsed", elapsed),
	)

	return &Engine{
		corpus:  corpus,
		vocab:   vocab,
		vectors: vectors,
		matrix:  matrix,
		index:   index,
		topK:    opts.TopK,
	}, nil
}

func similarityMatrix(vectors []TermVector) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := vectors[i].Dot(vectors[j])
			matrix[i][j] = s
			matrix[j][i] = s
		}
	}
	return matrix
}

func (e *Engine) Len() int {
	return e.corpus.Len()
}

func (e *Engine) Corpus() *catalog.Corpus {
	return e.corpus
}

func (e *Engine) Vocabulary() *Vocabulary {
	return e.vocab
}

func (e *Engine) Vector(i int) TermVector {
	return e.vectors[i]
}

// Similarity returns the cosine similarity of rows i and j.
func (e *Engine) Similarity(i, j int) float64 {
	return e.matrix[i][j]
}

// Matrix returns a copy of the similarity matrix.
func (e *Engine) Matrix() [][]float64 {
	out := make([][]float64, len(e.matrix))
	for i, row := range e.matrix {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Lookup returns the row for title. Duplicate titles resolve to the last row.
func (e *Engine) Lookup(title string) (int, bool) {
	i, ok := e.index[title]
	return i, ok
}

// Recommend returns up to k games most similar to title, best first, ties in
// corpus order. The query game and any row sharing its title are excluded.
// k <= 0 uses the engine's default.
func (e *Engine) Recommend(title string, k int) ([]Recommendation, error) {
	start := time.Now()
	defer func() {
		metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
	}()

	idx, ok := e.index[title]
	if !ok {
		metrics.RecommendationQueries.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %q", ErrTitleNotFound, title)
	}
	if k <= 0 {
		k = e.topK
	}

	row := e.matrix[idx]
	candidates := make([]int, 0, len(row))
	for j := range row {
		if j == idx || e.corpus.Record(j).Title == title {
			continue
		}
		candidates = append(candidates, j)
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return row[candidates[a]] > row[candidates[b]]
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	recs := make([]Recommendation, len(candidates))
	for n, j := range candidates {
		recs[n] = Recommendation{Index: j, Title: e.corpus.Record(j).Title, Score: row[j]}
	}

	metrics.RecommendationQueries.WithLabelValues("found").Inc()
	return recs, nil
}

// Titles is the display form of Recommend. It never fails: an unknown title
// or an internal error comes back as a single message string.
func (e *Engine) Titles(title string) (titles []string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecommendationQueries.WithLabelValues("error").Inc()
			logger.Error("Recommendation panicked", zap.String("title", title), zap.Any("panic", r))
			titles = []string{ErrorMessage(fmt.Errorf("%v", r))}
		}
	}()

	recs, err := e.Recommend(title, e.topK)
	if err != nil {
		if errors.Is(err, ErrTitleNotFound) {
			return []string{NotFoundMessage(title)}
		}
		metrics.RecommendationQueries.WithLabelValues("error").Inc()
		return []string{ErrorMessage(err)}
	}

	titles = make([]string, len(recs))
	for i, r := range recs {
		titles[i] = r.Title
	}
	return titles
}

func NotFoundMessage(title string) string {
	return fmt.Sprintf("Game '%s' not found in database.", title)
}

func ErrorMessage(err error) string {
	return fmt.Sprintf("Error processing recommendation: %v", err)
}
