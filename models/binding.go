package models

import "time"

// RemoteFolderBinding ties a remote folder to the local ingestion pipeline.
// PageToken is the opaque change cursor; empty means the next sync is a full
// walk that establishes a fresh cursor.
type RemoteFolderBinding struct {
	ID              string     `bson:"_id" json:"id"`
	RemoteFolderID  string     `bson:"remote_folder_id" json:"remote_folder_id"`
	Recursive       bool       `bson:"recursive" json:"recursive"`
	PageToken       string     `bson:"page_token,omitempty" json:"-"`
	LastSyncedAt    *time.Time `bson:"last_synced_at,omitempty" json:"last_synced_at,omitempty"`
	SyncStatus      string     `bson:"sync_status" json:"sync_status"`
	SyncError       string     `bson:"sync_error,omitempty" json:"sync_error,omitempty"`
	SyncIntervalMin int        `bson:"sync_interval_min,omitempty" json:"sync_interval_min,omitempty"`
	ProfileID       string     `bson:"profile_id,omitempty" json:"profile_id,omitempty"`
	Enabled         bool       `bson:"enabled" json:"enabled"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// Sync status constants
const (
	SyncIdle    = "IDLE"
	SyncSyncing = "SYNCING"
	SyncErrored = "ERROR"
)
