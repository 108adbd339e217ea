// Package search implements hybrid retrieval: dense and lexical candidate
// generation fused with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"doc-ingest-platform/models"
)

const (
	// DefaultRRFK is the standard RRF smoothing constant.
	DefaultRRFK = 60

	// DefaultAlpha weights dense vs sparse contributions equally.
	DefaultAlpha = 0.5
)

// RankedChunk is one retriever's scored candidate, in rank order.
type RankedChunk struct {
	Chunk models.Chunk
	Score float64
}

// Result is a fused hit with per-retriever sub-scores. A zero rank means the
// chunk was absent from that retriever's list.
type Result struct {
	Chunk       models.Chunk `json:"chunk"`
	Score       float64      `json:"score"`
	DenseRank   int          `json:"dense_rank,omitempty"`
	SparseRank  int          `json:"sparse_rank,omitempty"`
	DenseScore  float64      `json:"dense_score,omitempty"`
	SparseScore float64      `json:"sparse_score,omitempty"`
}

// FuseRRF merges two ranked lists with Reciprocal Rank Fusion:
//
//	score(c) = alpha * 1/(k + denseRank) + (1-alpha) * 1/(k + sparseRank)
//
// Ranks are 1-based; a chunk missing from a list contributes nothing for
// that list. Ties break on the better dense rank, then on (documentId,
// chunkIndex) for a stable order.
func FuseRRF(dense, sparse []RankedChunk, alpha float64, k, topK int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	merged := make(map[string]*Result, len(dense)+len(sparse))

	for i, candidate := range dense {
		rank := i + 1
		merged[candidate.Chunk.ID] = &Result{
			Chunk:      candidate.Chunk,
			Score:      alpha / float64(k+rank),
			DenseRank:  rank,
			DenseScore: candidate.Score,
		}
	}
	for i, candidate := range sparse {
		rank := i + 1
		if hit, ok := merged[candidate.Chunk.ID]; ok {
			hit.Score += (1 - alpha) / float64(k+rank)
			hit.SparseRank = rank
			hit.SparseScore = candidate.Score
			continue
		}
		merged[candidate.Chunk.ID] = &Result{
			Chunk:       candidate.Chunk,
			Score:       (1 - alpha) / float64(k+rank),
			SparseRank:  rank,
			SparseScore: candidate.Score,
		}
	}

	results := make([]Result, 0, len(merged))
	for _, hit := range merged {
		results = append(results, *hit)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := effectiveRank(a.DenseRank), effectiveRank(b.DenseRank); ra != rb {
			return ra < rb
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// effectiveRank treats an absent rank as worse than any real one.
func effectiveRank(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
