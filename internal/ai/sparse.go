package ai

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"doc-ingest-platform/models"
)

// sparseVocabSize is the hashed vocabulary for the lexical encoder. Terms are
// bucketed by FNV-1a, so the same term always lands on the same index.
const sparseVocabSize = 30000

// SparseEncoder turns text into a hashed bag-of-words vector with log-scaled
// term frequencies. It backs the lexical side of hybrid retrieval and needs
// no model calls, so it runs inline during chunk persistence.
type SparseEncoder struct{}

func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode produces a sparse vector with sorted, unique indices. Blank or
// token-free text yields nil.
func (e *SparseEncoder) Encode(text string) *models.SparseVector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[int32]int, len(tokens))
	for _, token := range tokens {
		counts[hashTerm(token)]++
	}

	indices := make([]int32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1 + math.Log(float64(counts[idx])))
	}
	return &models.SparseVector{Indices: indices, Values: values}
}

// Tokenize lowercases and splits on non-alphanumeric runes, dropping single
// characters. The same tokenizer feeds the stored search_vector text so
// indexing and querying agree.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// SearchText returns the normalized token stream used for the lexical text
// index on chunks.
func SearchText(text string) string {
	return strings.Join(Tokenize(text), " ")
}

func hashTerm(term string) int32 {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int32(h.Sum32() % sparseVocabSize)
}
