package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"doc-ingest-platform/internal/ai"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

// NewRetrievers builds the retriever pair for the configured vector provider.
// "atlas-hybrid" uses Atlas server-side $vectorSearch and $search; "mongo"
// (community server) scores in-process and has no sparse retriever.
func NewRetrievers(db *mongo.Database, provider string) (dense, sparse Retriever) {
	switch provider {
	case "atlas-hybrid":
		return NewAtlasDenseRetriever(db), NewAtlasSparseRetriever(db)
	default:
		return NewMongoDenseRetriever(db), NewMongoSparseRetriever(db)
	}
}

// eligibleDocumentIDs scopes retrieval to COMPLETED, active documents.
func eligibleDocumentIDs(ctx context.Context, db *mongo.Database, filter Filter) ([]string, error) {
	query := bson.M{
		"status":    models.StatusCompleted,
		"is_active": true,
	}
	if filter.DocumentID != "" {
		query["_id"] = filter.DocumentID
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := db.Collection("documents").Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to scope documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode document scope: %w", err)
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

// loadCandidates fetches every chunk owned by the eligible documents.
func loadCandidates(ctx context.Context, db *mongo.Database, filter Filter) ([]models.Chunk, error) {
	ids, err := eligibleDocumentIDs(ctx, db, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := db.Collection("chunks").Find(ctx, bson.M{"document_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode candidate chunks: %w", err)
	}
	for i := range chunks {
		if err := store.Decompress(&chunks[i]); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// MongoDenseRetriever scores cosine similarity in-process. It serves
// community-server deployments where Atlas vector indexes are unavailable;
// candidate sets are bounded by the corpus size.
type MongoDenseRetriever struct {
	db *mongo.Database
}

func NewMongoDenseRetriever(db *mongo.Database) *MongoDenseRetriever {
	return &MongoDenseRetriever{db: db}
}

func (r *MongoDenseRetriever) Retrieve(ctx context.Context, q Query, limit int) ([]RankedChunk, error) {
	chunks, err := loadCandidates(ctx, r.db, q.Filter)
	if err != nil {
		return nil, err
	}

	hits := make([]RankedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(q.Vector, chunk.Embedding)
		if math.IsNaN(score) {
			continue
		}
		hits = append(hits, RankedChunk{Chunk: chunk, Score: score})
	}
	sortAndTrim(&hits, limit)
	return hits, nil
}

// MongoSparseRetriever ranks candidates with BM25 over the precomputed
// search_vector token stream.
type MongoSparseRetriever struct {
	db *mongo.Database
}

func NewMongoSparseRetriever(db *mongo.Database) *MongoSparseRetriever {
	return &MongoSparseRetriever{db: db}
}

// BM25 parameters, standard values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func (r *MongoSparseRetriever) Retrieve(ctx context.Context, q Query, limit int) ([]RankedChunk, error) {
	queryTerms := ai.Tokenize(q.Text)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	chunks, err := loadCandidates(ctx, r.db, q.Filter)
	if err != nil {
		return nil, err
	}
	hits := scoreBM25(queryTerms, chunks)
	sortAndTrim(&hits, limit)
	return hits, nil
}

// scoreBM25 ranks chunks against the query terms with corpus statistics drawn
// from the candidate set itself.
func scoreBM25(queryTerms []string, chunks []models.Chunk) []RankedChunk {
	if len(chunks) == 0 {
		return nil
	}

	docTerms := make([]map[string]int, len(chunks))
	docLens := make([]int, len(chunks))
	termDocFreq := make(map[string]int)
	totalLen := 0
	for i, chunk := range chunks {
		terms := ai.Tokenize(indexText(chunk))
		counts := make(map[string]int, len(terms))
		for _, term := range terms {
			counts[term]++
		}
		docTerms[i] = counts
		docLens[i] = len(terms)
		totalLen += len(terms)
		for term := range counts {
			termDocFreq[term]++
		}
	}
	avgLen := float64(totalLen) / float64(len(chunks))
	if avgLen == 0 {
		return nil
	}

	n := float64(len(chunks))
	hits := make([]RankedChunk, 0, len(chunks))
	for i, chunk := range chunks {
		var score float64
		for _, term := range queryTerms {
			tf := float64(docTerms[i][term])
			if tf == 0 {
				continue
			}
			df := float64(termDocFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := bm25K1 * (1 - bm25B + bm25B*float64(docLens[i])/avgLen)
			score += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
		if score > 0 {
			hits = append(hits, RankedChunk{Chunk: chunk, Score: score})
		}
	}
	return hits
}

// indexText is the lexical surface of a chunk: heading trail plus content,
// matching what the sparse index was built from.
func indexText(chunk models.Chunk) string {
	text := chunk.SearchVector
	if text == "" {
		text = chunk.Content
	}
	if chunk.Heading != "" {
		text = chunk.Heading + " " + text
	}
	for _, crumb := range chunk.Breadcrumbs {
		text = crumb + " " + text
	}
	return text
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.NaN()
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortAndTrim(hits *[]RankedChunk, limit int) {
	sort.Slice(*hits, func(i, j int) bool {
		if (*hits)[i].Score != (*hits)[j].Score {
			return (*hits)[i].Score > (*hits)[j].Score
		}
		if (*hits)[i].Chunk.DocumentID != (*hits)[j].Chunk.DocumentID {
			return (*hits)[i].Chunk.DocumentID < (*hits)[j].Chunk.DocumentID
		}
		return (*hits)[i].Chunk.ChunkIndex < (*hits)[j].Chunk.ChunkIndex
	})
	if limit > 0 && len(*hits) > limit {
		*hits = (*hits)[:limit]
	}
}
