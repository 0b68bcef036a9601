package recommend

import (
	"math"
	"sort"
)

// TermVector is a sparse, L2-normalized TF-IDF vector keyed by term id.
// An empty vector stands for a document with no usable terms.
type TermVector map[int]float64

// Dot returns the inner product. Both vectors are normalized, so this is
// their cosine similarity.
func (v TermVector) Dot(o TermVector) float64 {
	if len(o) < len(v) {
		v, o = o, v
	}
	var sum float64
	for id, w := range v {
		if ow, ok := o[id]; ok {
			sum += w * ow
		}
	}
	return sum
}

// Vocabulary maps terms to ids in lexical order and carries each term's idf.
type Vocabulary struct {
	ids   map[string]int
	terms []string
	idf   []float64
}

func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// ID returns the term id, or -1 for an unknown term.
func (v *Vocabulary) ID(term string) int {
	if id, ok := v.ids[term]; ok {
		return id
	}
	return -1
}

func (v *Vocabulary) Term(id int) string {
	return v.terms[id]
}

func (v *Vocabulary) IDF(id int) float64 {
	return v.idf[id]
}

// fitTransform learns the vocabulary from the tokenized documents and
// returns one weighted vector per document, in input order.
//
// Weight is raw count times the smoothed idf ln((1+n)/(1+df))+1, followed by
// L2 normalization.
func fitTransform(docs [][]string) (*Vocabulary, []TermVector) {
	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)

	for i, tokens := range docs {
		c := make(map[string]int)
		for _, tok := range tokens {
			if IsStopWord(tok) {
				continue
			}
			c[tok]++
		}
		for term := range c {
			df[term]++
		}
		counts[i] = c
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(docs))
	vocab := &Vocabulary{
		ids:   make(map[string]int, len(terms)),
		terms: terms,
		idf:   make([]float64, len(terms)),
	}
	for id, term := range terms {
		vocab.ids[term] = id
		vocab.idf[id] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	vectors := make([]TermVector, len(docs))
	for i, c := range counts {
		vec := make(TermVector, len(c))
		var norm float64
		for term, count := range c {
			id := vocab.ids[term]
			w := float64(count) * vocab.idf[id]
			vec[id] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for id := range vec {
				vec[id] /= norm
			}
		}
		vectors[i] = vec
	}

	return vocab, vectors
}
