package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"doc-ingest-platform/models"
)

// DocumentRepo is the metadata store for documents. It owns the dedup
// lookups and the optimistic-lock transition primitive the state machine
// builds on.
type DocumentRepo struct {
	collection *mongo.Collection
}

func NewDocumentRepo(db *mongo.Database) *DocumentRepo {
	return &DocumentRepo{collection: db.Collection("documents")}
}

// Insert stores a new document. A duplicate md5_hash or remote_file_id
// surfaces as ErrDuplicate so the upload path can map it to a 409.
func (r *DocumentRepo) Insert(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: document %s", ErrDuplicate, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get fetches a document by ID.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	return &doc, nil
}

// FindByHash is the content-level dedup lookup. Returns (nil, nil) on miss.
func (r *DocumentRepo) FindByHash(ctx context.Context, md5Hash string) (*models.Document, error) {
	var doc models.Document
	err := r.collection.FindOne(ctx, bson.M{"md5_hash": md5Hash}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up hash: %w", err)
	}
	return &doc, nil
}

// FindByRemoteID is the remote-identity dedup lookup. Returns (nil, nil) on miss.
func (r *DocumentRepo) FindByRemoteID(ctx context.Context, remoteFileID string) (*models.Document, error) {
	var doc models.Document
	err := r.collection.FindOne(ctx, bson.M{"remote_file_id": remoteFileID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up remote file: %w", err)
	}
	return &doc, nil
}

// ApplyTransition applies a status change if and only if the document's
// updated_at still equals expect. Losing the race yields ErrVersionConflict.
func (r *DocumentRepo) ApplyTransition(ctx context.Context, id string, expect time.Time, change DocumentChange) error {
	set := bson.M{
		"status":     change.Status,
		"updated_at": time.Now().UTC(),
	}
	if change.FailReason != "" {
		set["fail_reason"] = change.FailReason
	}
	if change.ChunkCount != nil {
		set["chunk_count"] = *change.ChunkCount
	}
	if change.IsActive != nil {
		set["is_active"] = *change.IsActive
	}

	update := bson.M{"$set": set}
	if change.ClearFailReason && change.FailReason == "" {
		update["$unset"] = bson.M{"fail_reason": ""}
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "updated_at": expect},
		update,
	)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a lost race from a missing document.
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to apply transition: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: document %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: document %s", ErrVersionConflict, id)
	}
	return nil
}

// IncrementRetry bumps the attempt counter. Monotonic, never reset.
func (r *DocumentRepo) IncrementRetry(ctx context.Context, id string) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// Update applies an unconditional field update. Used by the synchronizer for
// remote metadata (name, hash, modified time), never for status.
func (r *DocumentRepo) Update(ctx context.Context, id string, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a document record. Chunk cleanup is the caller's job.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// ListFilter narrows and pages the document listing.
type ListFilter struct {
	Status string
	Search string
	Limit  int64
	Offset int64
}

// List returns a page of documents, newest first, plus the total match count.
func (r *DocumentRepo) List(ctx context.Context, filter ListFilter) ([]models.Document, int64, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Search != "" {
		query["filename"] = bson.M{"$regex": filter.Search, "$options": "i"}
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(filter.Offset).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, total, nil
}

// CountsByStatus aggregates document counts per lifecycle status.
func (r *DocumentRepo) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate status counts: %w", err)
	}
	defer cursor.Close(ctx)

	counts := map[string]int64{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode status counts: %w", err)
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ListByRemoteFolder returns every document linked to a remote folder,
// including soft-deleted ones, keyed by remote file ID.
func (r *DocumentRepo) ListByRemoteFolder(ctx context.Context, folderID string) (map[string]models.Document, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"remote_folder_id": folderID})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder documents: %w", err)
	}
	defer cursor.Close(ctx)

	byRemoteID := make(map[string]models.Document)
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode folder documents: %w", err)
	}
	for _, doc := range docs {
		if doc.RemoteFileID != "" {
			byRemoteID[doc.RemoteFileID] = doc
		}
	}
	return byRemoteID, nil
}
