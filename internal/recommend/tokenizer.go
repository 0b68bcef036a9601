package recommend

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

const (
	TokenizerWord  = "word"
	TokenizerProse = "prose"
)

// Tokenizer splits a feature text into lowercased terms. Stop words are
// removed later by the vectorizer, not here.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

func NewTokenizer(name string) (Tokenizer, error) {
	switch strings.ToLower(name) {
	case "", TokenizerWord:
		return WordTokenizer{}, nil
	case TokenizerProse:
		return ProseTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]{2,}`)

// WordTokenizer keeps runs of two or more word characters.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(text string) ([]string, error) {
	return wordPattern.FindAllString(strings.ToLower(text), -1), nil
}

// ProseTokenizer uses prose's rule-based tokenizer, then keeps alphanumeric
// tokens of at least two characters.
type ProseTokenizer struct{}

func (ProseTokenizer) Tokenize(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}

	var terms []string
	for _, tok := range doc.Tokens() {
		term := strings.ToLower(tok.Text)
		if utf8.RuneCountInString(term) < 2 || !alphanumeric(term) {
			continue
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func alphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
