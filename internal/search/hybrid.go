package search

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"doc-ingest-platform/internal/ai"
)

// Search modes.
const (
	ModeDense  = "dense"
	ModeHybrid = "hybrid"
)

// DefaultTopK applies when a request leaves topK unset.
const DefaultTopK = 5

// ErrEmptyQuery is returned for a blank query text.
var ErrEmptyQuery = errors.New("query text must not be empty")

// ErrBadMode is returned for an unknown search mode.
var ErrBadMode = errors.New("mode must be dense or hybrid")

// Filter narrows candidates; zero value means no filter.
type Filter struct {
	DocumentID string `json:"documentId,omitempty"`
}

// Query is the retriever-facing form of a search request.
type Query struct {
	Text   string
	Vector []float32
	Filter Filter
}

// Retriever produces a ranked candidate list, best first, at most limit long.
// Implementations scope candidates to COMPLETED, active documents.
type Retriever interface {
	Retrieve(ctx context.Context, q Query, limit int) ([]RankedChunk, error)
}

// Request is one search call.
type Request struct {
	QueryText string   `json:"queryText" binding:"required"`
	TopK      int      `json:"topK"`
	Mode      string   `json:"mode"`
	Alpha     *float64 `json:"alpha"` // nil means the 0.5 default; 0 is a legal value
	Filter    Filter   `json:"filter"`
}

// Searcher runs dense and sparse retrieval in parallel and fuses the
// rankings. A nil sparse retriever (dense-only deployments) silently
// downgrades hybrid requests to dense.
type Searcher struct {
	embedder ai.Embedder
	dense    Retriever
	sparse   Retriever
	rrfK     int
}

func NewSearcher(embedder ai.Embedder, dense, sparse Retriever, rrfK int) *Searcher {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	return &Searcher{embedder: embedder, dense: dense, sparse: sparse, rrfK: rrfK}
}

// Search embeds the query, fans out to the retrievers and fuses the results.
func (s *Searcher) Search(ctx context.Context, req Request) ([]Result, error) {
	tracer := otel.Tracer("hybrid-search")
	ctx, span := tracer.Start(ctx, "search.query")
	defer span.End()

	if strings.TrimSpace(req.QueryText) == "" {
		return nil, ErrEmptyQuery
	}

	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > 100 {
		topK = 100
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if mode != ModeDense && mode != ModeHybrid {
		return nil, ErrBadMode
	}
	useSparse := mode == ModeHybrid && s.sparse != nil

	alpha := DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}

	span.SetAttributes(
		attribute.String("search.mode", mode),
		attribute.Int("search.top_k", topK),
		attribute.Bool("search.sparse", useSparse),
	)

	vector, err := s.embedder.EmbedQuery(ctx, req.QueryText)
	if err != nil {
		return nil, err
	}
	query := Query{Text: req.QueryText, Vector: vector, Filter: req.Filter}

	// Over-fetch per retriever so fusion has real overlap to work with.
	limit := 2 * topK
	if limit < 20 {
		limit = 20
	}

	var denseHits, sparseHits []RankedChunk
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		denseHits, err = s.dense.Retrieve(groupCtx, query, limit)
		return err
	})
	if useSparse {
		group.Go(func() error {
			var err error
			sparseHits, err = s.sparse.Retrieve(groupCtx, query, limit)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if !useSparse {
		results := make([]Result, 0, topK)
		for i, hit := range denseHits {
			if i == topK {
				break
			}
			results = append(results, Result{
				Chunk:      hit.Chunk,
				Score:      hit.Score,
				DenseRank:  i + 1,
				DenseScore: hit.Score,
			})
		}
		return results, nil
	}
	return FuseRRF(denseHits, sparseHits, alpha, s.rrfK, topK), nil
}
