package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"doc-ingest-platform/models"
)

// ErrSyncInProgress is returned when a sync cannot start because another run
// already holds the binding.
var ErrSyncInProgress = errors.New("sync already in progress")

// BindingRepo stores remote folder bindings and owns the per-binding sync
// lock: only one sync runs per folder at a time.
type BindingRepo struct {
	collection *mongo.Collection
}

func NewBindingRepo(db *mongo.Database) *BindingRepo {
	return &BindingRepo{collection: db.Collection("remote_folder_bindings")}
}

// Insert stores a new binding. Each remote folder can be bound once.
func (r *BindingRepo) Insert(ctx context.Context, binding *models.RemoteFolderBinding) error {
	now := time.Now().UTC()
	binding.CreatedAt = now
	binding.UpdatedAt = now
	if binding.SyncStatus == "" {
		binding.SyncStatus = models.SyncIdle
	}

	_, err := r.collection.InsertOne(ctx, binding)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: folder %s", ErrDuplicate, binding.RemoteFolderID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert binding: %w", err)
	}
	return nil
}

// Get fetches a binding by ID.
func (r *BindingRepo) Get(ctx context.Context, id string) (*models.RemoteFolderBinding, error) {
	var binding models.RemoteFolderBinding
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&binding)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: binding %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch binding: %w", err)
	}
	return &binding, nil
}

// List returns all bindings.
func (r *BindingRepo) List(ctx context.Context) ([]models.RemoteFolderBinding, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer cursor.Close(ctx)

	bindings := []models.RemoteFolderBinding{}
	if err := cursor.All(ctx, &bindings); err != nil {
		return nil, fmt.Errorf("failed to decode bindings: %w", err)
	}
	return bindings, nil
}

// ListEnabled returns the bindings the scheduler should sync.
func (r *BindingRepo) ListEnabled(ctx context.Context) ([]models.RemoteFolderBinding, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled bindings: %w", err)
	}
	defer cursor.Close(ctx)

	bindings := []models.RemoteFolderBinding{}
	if err := cursor.All(ctx, &bindings); err != nil {
		return nil, fmt.Errorf("failed to decode bindings: %w", err)
	}
	return bindings, nil
}

// AcquireSyncLock flips IDLE or ERROR to SYNCING in one conditional update.
// A binding already SYNCING yields ErrSyncInProgress.
func (r *BindingRepo) AcquireSyncLock(ctx context.Context, id string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "sync_status": bson.M{"$ne": models.SyncSyncing}},
		bson.M{"$set": bson.M{
			"sync_status": models.SyncSyncing,
			"sync_error":  "",
			"updated_at":  time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: binding %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: binding %s", ErrSyncInProgress, id)
	}
	return nil
}

// FinishSync releases the lock after a successful run, advancing the change
// cursor. The token only moves here, never on a failed run.
func (r *BindingRepo) FinishSync(ctx context.Context, id, pageToken string) error {
	now := time.Now().UTC()
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"sync_status":    models.SyncIdle,
		"sync_error":     "",
		"page_token":     pageToken,
		"last_synced_at": now,
		"updated_at":     now,
	}})
	if err != nil {
		return fmt.Errorf("failed to finish sync: %w", err)
	}
	return nil
}

// FailSync releases the lock after a failed run, keeping the old cursor so
// the next run retries the same change window.
func (r *BindingRepo) FailSync(ctx context.Context, id, syncError string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"sync_status": models.SyncErrored,
		"sync_error":  syncError,
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	return nil
}

// ReleaseSync releases the lock without recording an outcome. Used when a
// run is cancelled: the binding goes back to IDLE and the cursor stays put.
func (r *BindingRepo) ReleaseSync(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "sync_status": models.SyncSyncing},
		bson.M{"$set": bson.M{
			"sync_status": models.SyncIdle,
			"updated_at":  time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// SetEnabled toggles scheduled syncing for a binding.
func (r *BindingRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"enabled":    enabled,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to toggle binding: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: binding %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a binding. Linked documents stay behind as standalone
// records; the caller decides what to do with them.
func (r *BindingRepo) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: binding %s", ErrNotFound, id)
	}
	return nil
}
