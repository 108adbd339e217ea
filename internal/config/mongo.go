package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	ctx := context.Background()

	// Documents: md5 is globally unique; remote_file_id unique when present.
	documentsCollection := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "md5_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "remote_file_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"remote_file_id": bson.M{"$type": "string"}},
			),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}
	_, err := documentsCollection.Indexes().CreateMany(ctx, documentIndexes)
	if err != nil {
		return err
	}

	// Chunks: (document_id, chunk_index) unique and dense per document.
	chunksCollection := db.Collection("chunks")
	chunkIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err = chunksCollection.Indexes().CreateMany(ctx, chunkIndexes)
	if err != nil {
		return err
	}

	// Profiles: name unique for the admin surface.
	profilesCollection := db.Collection("processing_profiles")
	profileIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err = profilesCollection.Indexes().CreateMany(ctx, profileIndexes)
	if err != nil {
		return err
	}

	// Folder bindings.
	bindingsCollection := db.Collection("remote_folder_bindings")
	bindingIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "remote_folder_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err = bindingsCollection.Indexes().CreateMany(ctx, bindingIndexes)
	if err != nil {
		return err
	}

	return nil
}
