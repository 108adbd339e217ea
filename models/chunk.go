package models

import "time"

// Chunk is a sub-document unit with positional and structural metadata.
// Ownership is exclusive: chunks are deleted together with their document.
type Chunk struct {
	ID              string        `bson:"_id" json:"id"`
	DocumentID      string        `bson:"document_id" json:"document_id"`
	ChunkIndex      int           `bson:"chunk_index" json:"chunk_index"`
	Content         string        `bson:"content,omitempty" json:"content"`
	ContentGz       []byte        `bson:"content_gz,omitempty" json:"-"`
	Compressed      bool          `bson:"compressed,omitempty" json:"-"`
	Compression     string        `bson:"compression,omitempty" json:"-"`
	CharStart       int           `bson:"char_start" json:"char_start"`
	CharEnd         int           `bson:"char_end" json:"char_end"`
	Heading         string        `bson:"heading,omitempty" json:"heading,omitempty"`
	Breadcrumbs     []string      `bson:"breadcrumbs,omitempty" json:"breadcrumbs,omitempty"`
	Page            int           `bson:"page,omitempty" json:"page,omitempty"`
	QualityScore    float64       `bson:"quality_score" json:"quality_score"`
	QualityFlags    []string      `bson:"quality_flags,omitempty" json:"quality_flags,omitempty"`
	ChunkType       string        `bson:"chunk_type" json:"chunk_type"`
	TokenCount      int           `bson:"token_count" json:"token_count"`
	Embedding       []float32     `bson:"embedding,omitempty" json:"-"`
	SparseEmbedding *SparseVector `bson:"sparse_embedding,omitempty" json:"-"`
	SearchVector    string        `bson:"search_vector,omitempty" json:"-"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
}

// SparseVector holds a sparse embedding as parallel sorted index/value slices.
type SparseVector struct {
	Indices []int32   `bson:"indices" json:"indices"`
	Values  []float32 `bson:"values" json:"values"`
}

// Chunk types
const (
	ChunkTypeText    = "text"
	ChunkTypeTable   = "table"
	ChunkTypeCode    = "code"
	ChunkTypeHeading = "heading"
)

// Quality flags
const (
	FlagFragment  = "FRAGMENT"
	FlagNoContext = "NO_CONTEXT"
	FlagTooShort  = "TOO_SHORT"
	FlagNoisy     = "NOISY"
)
