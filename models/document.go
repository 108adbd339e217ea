package models

import (
	"time"
)

// Document represents a single ingested file and its processing lifecycle.
// IDs are UUID strings so they can be generated before the database insert
// (the upload path needs the ID for the on-disk file name and the queue task).
type Document struct {
	ID              string     `bson:"_id" json:"id"`
	Filename        string     `bson:"filename" json:"filename"`
	MimeType        string     `bson:"mime_type" json:"mime_type"`
	FileSize        int64      `bson:"file_size" json:"file_size"`
	Format          string     `bson:"format" json:"format"`
	FormatCategory  string     `bson:"format_category" json:"format_category"`
	Status          string     `bson:"status" json:"status"`
	MD5Hash         string     `bson:"md5_hash" json:"md5_hash"`
	FilePath        string     `bson:"file_path" json:"-"`
	RetryCount      int        `bson:"retry_count" json:"retry_count"`
	FailReason      string     `bson:"fail_reason,omitempty" json:"fail_reason,omitempty"`
	IsActive        bool       `bson:"is_active" json:"is_active"`
	ChunkCount      int        `bson:"chunk_count" json:"chunk_count"`
	SourceType      string     `bson:"source_type" json:"source_type"`
	ConnectionState string     `bson:"connection_state" json:"connection_state"`
	RemoteFileID    string     `bson:"remote_file_id,omitempty" json:"remote_file_id,omitempty"`
	RemoteFolderID  string     `bson:"remote_folder_id,omitempty" json:"remote_folder_id,omitempty"`
	RemoteModified  *time.Time `bson:"remote_modified_time,omitempty" json:"remote_modified_time,omitempty"`
	ProfileID       string     `bson:"profile_id,omitempty" json:"profile_id,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// Document status constants
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Source type constants
const (
	SourceManual = "MANUAL"
	SourceRemote = "REMOTE"
)

// Connection state constants
const (
	ConnectionStandalone = "STANDALONE"
	ConnectionLinked     = "LINKED"
)

// Supported formats
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatPPTX = "pptx"
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatTXT  = "txt"
	FormatMD   = "md"
	FormatHTML = "html"
	FormatEPUB = "epub"
)

// Format categories
const (
	CategoryDocument     = "document"
	CategoryPresentation = "presentation"
	CategoryTabular      = "tabular"
	CategoryWeb          = "web"
	CategoryRaw          = "raw"
)

// Processing lanes
const (
	LaneFast  = "fast"
	LaneHeavy = "heavy"
)

// Failure reason codes carried in Document.FailReason. The stored value is
// the short code, optionally followed by ":<detail>" (PROCESSING_ERROR only).
const (
	FailInvalidJSON       = "INVALID_JSON"
	FailTextTooShort      = "TEXT_TOO_SHORT"
	FailExcessiveNoise    = "EXCESSIVE_NOISE"
	FailNoContent         = "NO_CONTENT"
	FailProcessingError   = "PROCESSING_ERROR"
	FailPasswordProtected = "PASSWORD_PROTECTED"
	FailCorruptFile       = "CORRUPT_FILE"
	FailUnsupportedFormat = "UNSUPPORTED_FORMAT"
	FailRemovedFromRemote = "REMOVED_FROM_REMOTE"
)

// IsTerminal reports whether the status is one of the two terminal states.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsPermanentFailCode reports whether a converter error code can never be
// fixed by retrying. Everything else is treated as transient.
func IsPermanentFailCode(code string) bool {
	switch code {
	case FailPasswordProtected, FailCorruptFile, FailUnsupportedFormat, FailInvalidJSON:
		return true
	}
	return false
}
