package search

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

// Atlas search index names. Both live on the chunks collection and must be
// created out of band (Atlas UI or API); index definitions are in the deploy
// docs.
const (
	atlasVectorIndex  = "chunk_vector_index"
	atlasLexicalIndex = "chunk_lexical_index"
)

// AtlasDenseRetriever runs $vectorSearch against the Atlas vector index.
type AtlasDenseRetriever struct {
	db *mongo.Database
}

func NewAtlasDenseRetriever(db *mongo.Database) *AtlasDenseRetriever {
	return &AtlasDenseRetriever{db: db}
}

func (r *AtlasDenseRetriever) Retrieve(ctx context.Context, q Query, limit int) ([]RankedChunk, error) {
	ids, err := eligibleDocumentIDs(ctx, r.db, q.Filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         atlasVectorIndex,
			"path":          "embedding",
			"queryVector":   q.Vector,
			"numCandidates": limit * 10,
			"limit":         limit,
			"filter":        bson.M{"document_id": bson.M{"$in": ids}},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "vectorSearchScore"},
		}}},
	}
	return r.runPipeline(ctx, pipeline, limit)
}

func (r *AtlasDenseRetriever) runPipeline(ctx context.Context, pipeline mongo.Pipeline, limit int) ([]RankedChunk, error) {
	return runAtlasPipeline(ctx, r.db, pipeline, limit)
}

// AtlasSparseRetriever runs $search (BM25 lexical scoring) against the Atlas
// search index.
type AtlasSparseRetriever struct {
	db *mongo.Database
}

func NewAtlasSparseRetriever(db *mongo.Database) *AtlasSparseRetriever {
	return &AtlasSparseRetriever{db: db}
}

func (r *AtlasSparseRetriever) Retrieve(ctx context.Context, q Query, limit int) ([]RankedChunk, error) {
	ids, err := eligibleDocumentIDs(ctx, r.db, q.Filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// $search cannot take a post-hoc filter on an unindexed field, so the
	// document scope rides inside the compound query. document_id must be
	// mapped as a token field in the index definition.
	should := make(bson.A, 0, len(ids))
	for _, id := range ids {
		should = append(should, bson.M{"equals": bson.M{"path": "document_id", "value": id}})
	}

	pipeline := mongo.Pipeline{
		{{Key: "$search", Value: bson.M{
			"index": atlasLexicalIndex,
			"compound": bson.M{
				"must": bson.A{
					bson.M{"text": bson.M{"query": q.Text, "path": "search_vector"}},
				},
				"filter": bson.A{
					bson.M{"compound": bson.M{"should": should, "minimumShouldMatch": 1}},
				},
			},
		}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "searchScore"},
		}}},
	}
	return runAtlasPipeline(ctx, r.db, pipeline, limit)
}

// atlasHit is a chunk with the server-side relevance score attached.
type atlasHit struct {
	models.Chunk `bson:",inline"`
	SearchScore  float64 `bson:"search_score"`
}

func runAtlasPipeline(ctx context.Context, db *mongo.Database, pipeline mongo.Pipeline, limit int) ([]RankedChunk, error) {
	cursor, err := db.Collection("chunks").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("atlas search pipeline failed: %w", err)
	}
	defer cursor.Close(ctx)

	var raw []atlasHit
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode atlas search results: %w", err)
	}

	hits := make([]RankedChunk, 0, len(raw))
	for i := range raw {
		if err := store.Decompress(&raw[i].Chunk); err != nil {
			return nil, err
		}
		hits = append(hits, RankedChunk{Chunk: raw[i].Chunk, Score: raw[i].SearchScore})
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
