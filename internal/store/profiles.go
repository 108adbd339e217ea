package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"doc-ingest-platform/models"
)

// Profile lifecycle guard errors.
var (
	ErrProfileDefault     = errors.New("the default profile cannot be archived or deleted")
	ErrProfileInUse       = errors.New("profile is still referenced by documents")
	ErrProfileNotArchived = errors.New("profile must be archived before deletion")
)

// ProfileRepo stores processing profiles. Profiles are frozen into job
// payloads at enqueue time, so edits here only affect future work.
type ProfileRepo struct {
	collection *mongo.Collection
	documents  *mongo.Collection
}

func NewProfileRepo(db *mongo.Database) *ProfileRepo {
	return &ProfileRepo{
		collection: db.Collection("processing_profiles"),
		documents:  db.Collection("documents"),
	}
}

// SeedDefault inserts the built-in default profile if none exists yet.
func (r *ProfileRepo) SeedDefault(ctx context.Context, embeddingModel string, dimension, minChars int) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"is_default": true})
	if err != nil {
		return fmt.Errorf("failed to check for default profile: %w", err)
	}
	if count > 0 {
		return nil
	}

	profile := models.DefaultProfile(embeddingModel, dimension, minChars)
	_, err = r.collection.InsertOne(ctx, profile)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to seed default profile: %w", err)
	}
	return nil
}

// Get fetches a profile by ID.
func (r *ProfileRepo) Get(ctx context.Context, id string) (*models.ProcessingProfile, error) {
	var profile models.ProcessingProfile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return &profile, nil
}

// GetDefault fetches the current default profile.
func (r *ProfileRepo) GetDefault(ctx context.Context) (*models.ProcessingProfile, error) {
	var profile models.ProcessingProfile
	err := r.collection.FindOne(ctx, bson.M{"is_default": true}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: default profile", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch default profile: %w", err)
	}
	return &profile, nil
}

// Resolve picks the effective profile for a new job: an explicitly requested
// profile first, then the folder binding's profile, then the default.
// Archived profiles are never resolved.
func (r *ProfileRepo) Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error) {
	for _, id := range []string{explicitID, bindingProfileID} {
		if id == "" {
			continue
		}
		profile, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !profile.IsArchived {
			return profile, nil
		}
	}
	return r.GetDefault(ctx)
}

// List returns all profiles, default first, then by name.
func (r *ProfileRepo) List(ctx context.Context, includeArchived bool) ([]models.ProcessingProfile, error) {
	query := bson.M{}
	if !includeArchived {
		query["is_archived"] = bson.M{"$ne": true}
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "is_default", Value: -1},
		{Key: "name", Value: 1},
	})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer cursor.Close(ctx)

	profiles := []models.ProcessingProfile{}
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	return profiles, nil
}

// Create stores a new profile. Names are unique.
func (r *ProfileRepo) Create(ctx context.Context, profile *models.ProcessingProfile) error {
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	profile.IsDefault = false
	profile.IsArchived = false

	_, err := r.collection.InsertOne(ctx, profile)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: profile name %q", ErrDuplicate, profile.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// Update replaces a profile's configuration sections. In-flight jobs are
// unaffected because they carry a frozen copy.
func (r *ProfileRepo) Update(ctx context.Context, id string, profile *models.ProcessingProfile) error {
	set := bson.M{
		"name":       profile.Name,
		"conversion": profile.Conversion,
		"chunking":   profile.Chunking,
		"quality":    profile.Quality,
		"updated_at": time.Now().UTC(),
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: profile name %q", ErrDuplicate, profile.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	return nil
}

// Archive retires a profile from resolution without touching documents that
// already reference it. The default profile cannot be archived.
func (r *ProfileRepo) Archive(ctx context.Context, id string) error {
	profile, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if profile.IsDefault {
		return ErrProfileDefault
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_archived": true,
		"is_active":   false,
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to archive profile: %w", err)
	}
	return nil
}

// Delete permanently removes a profile. Deletion is two-step: the profile
// must already be archived and no document may still reference it.
func (r *ProfileRepo) Delete(ctx context.Context, id string) error {
	profile, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if profile.IsDefault {
		return ErrProfileDefault
	}
	if !profile.IsArchived {
		return ErrProfileNotArchived
	}

	refs, err := r.documents.CountDocuments(ctx, bson.M{"profile_id": id})
	if err != nil {
		return fmt.Errorf("failed to count profile references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d documents", ErrProfileInUse, refs)
	}

	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// SetDefault atomically moves the default flag to another profile.
func (r *ProfileRepo) SetDefault(ctx context.Context, id string) error {
	profile, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if profile.IsArchived {
		return ErrProfileNotArchived
	}

	now := time.Now().UTC()
	_, err = r.collection.UpdateMany(ctx, bson.M{"is_default": true}, bson.M{"$set": bson.M{
		"is_default": false,
		"updated_at": now,
	}})
	if err != nil {
		return fmt.Errorf("failed to clear default flag: %w", err)
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_default": true,
		"updated_at": now,
	}})
	if err != nil {
		return fmt.Errorf("failed to set default profile: %w", err)
	}
	return nil
}
