package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"doc-ingest-platform/models"
	"doc-ingest-platform/utils"
)

// ChunkRepo stores chunk records. Content above the compression threshold is
// gzipped at rest and decompressed transparently on read.
type ChunkRepo struct {
	collection *mongo.Collection
}

func NewChunkRepo(db *mongo.Database) *ChunkRepo {
	return &ChunkRepo{collection: db.Collection("chunks")}
}

// ReplaceForDocument swaps a document's chunk set in a single ordered bulk
// write: delete everything, then insert the new set. This is not a mongo
// transaction (that would rule out standalone deployments), but the swap is
// still invisible to search: the caller only flips the document to COMPLETED
// after the bulk write succeeds, and retrieval scopes to COMPLETED documents.
// A half-applied bulk write leaves the document non-terminal and the next
// attempt starts with the same DeleteMany.
func (r *ChunkRepo) ReplaceForDocument(ctx context.Context, documentID string, chunks []models.Chunk) (int, error) {
	writes := make([]mongo.WriteModel, 0, len(chunks)+1)
	writes = append(writes, mongo.NewDeleteManyModel().
		SetFilter(bson.M{"document_id": documentID}))

	now := time.Now().UTC()
	for i := range chunks {
		chunk := chunks[i]
		chunk.DocumentID = documentID
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
		if err := compressChunk(&chunk); err != nil {
			return 0, err
		}
		writes = append(writes, mongo.NewInsertOneModel().SetDocument(chunk))
	}

	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("failed to replace chunks for document %s: %w", documentID, err)
	}
	return len(chunks), nil
}

// DeleteForDocument removes every chunk owned by the document.
func (r *ChunkRepo) DeleteForDocument(ctx context.Context, documentID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

// CountForDocument returns the number of stored chunks for a document.
func (r *ChunkRepo) CountForDocument(ctx context.Context, documentID string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// ListForDocument returns a document's chunks ordered by chunk index.
func (r *ChunkRepo) ListForDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chunk_index", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	for i := range chunks {
		if err := decompressChunk(&chunks[i]); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// Get fetches a single chunk by ID.
func (r *ChunkRepo) Get(ctx context.Context, id string) (*models.Chunk, error) {
	var chunk models.Chunk
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&chunk)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk: %w", err)
	}
	if err := decompressChunk(&chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Decompress restores a chunk's plain-text content in place. Chunks read
// outside ChunkRepo (search retrievers) run through this before leaving the
// process.
func Decompress(chunk *models.Chunk) error {
	return decompressChunk(chunk)
}

func compressChunk(chunk *models.Chunk) error {
	data, algorithm, err := utils.CompressText(chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to compress chunk %s: %w", chunk.ID, err)
	}
	if algorithm == utils.CompressionNone {
		return nil
	}
	chunk.ContentGz = data
	chunk.Content = ""
	chunk.Compressed = true
	chunk.Compression = string(algorithm)
	return nil
}

func decompressChunk(chunk *models.Chunk) error {
	if !chunk.Compressed {
		return nil
	}
	text, err := utils.DecompressText(chunk.ContentGz, utils.CompressionAlgorithm(chunk.Compression))
	if err != nil {
		return fmt.Errorf("failed to decompress chunk %s: %w", chunk.ID, err)
	}
	chunk.Content = text
	chunk.ContentGz = nil
	chunk.Compressed = false
	chunk.Compression = ""
	return nil
}
