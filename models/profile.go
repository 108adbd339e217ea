package models

import "time"

// ProcessingProfile is a frozen bundle of processing parameters. The effective
// profile is resolved at enqueue time and copied into the job payload, so later
// edits never affect in-flight work.
type ProcessingProfile struct {
	ID         string           `bson:"_id" json:"id"`
	Name       string           `bson:"name" json:"name"`
	Conversion ConversionConfig `bson:"conversion" json:"conversion"`
	Chunking   ChunkingConfig   `bson:"chunking" json:"chunking"`
	Quality    QualityConfig    `bson:"quality" json:"quality"`
	Embedding  EmbeddingConfig  `bson:"embedding" json:"embedding"`
	IsDefault  bool             `bson:"is_default" json:"is_default"`
	IsActive   bool             `bson:"is_active" json:"is_active"`
	IsArchived bool             `bson:"is_archived" json:"is_archived"`
	CreatedAt  time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `bson:"updated_at" json:"updated_at"`
}

// ConversionConfig controls the heavy-lane converter.
type ConversionConfig struct {
	PDFConverter    string   `bson:"pdf_converter" json:"pdf_converter"` // "fast" or "high-quality"
	PDFOCRMode      string   `bson:"pdf_ocr_mode" json:"pdf_ocr_mode"`   // "auto", "force", "never"
	PDFOCRLanguages []string `bson:"pdf_ocr_languages,omitempty" json:"pdf_ocr_languages,omitempty"`
	TableRowLimit   int      `bson:"table_row_limit" json:"table_row_limit"`
	TableColLimit   int      `bson:"table_col_limit" json:"table_col_limit"`
	MaxFileSizeMB   int      `bson:"max_file_size_mb" json:"max_file_size_mb"`
}

// ChunkingConfig controls the splitter.
type ChunkingConfig struct {
	TargetChars               int `bson:"target_chars" json:"target_chars"`
	OverlapChars              int `bson:"overlap_chars" json:"overlap_chars"`
	HeaderLevels              int `bson:"header_levels" json:"header_levels"`
	PresentationMinChunkChars int `bson:"presentation_min_chunk_chars" json:"presentation_min_chunk_chars"`
	TabularRowsPerChunk       int `bson:"tabular_rows_per_chunk" json:"tabular_rows_per_chunk"`
}

// QualityConfig controls the quality gate.
type QualityConfig struct {
	MinChars         int     `bson:"min_chars" json:"min_chars"`
	MaxChars         int     `bson:"max_chars" json:"max_chars"`
	PenaltyPerFlag   float64 `bson:"penalty_per_flag" json:"penalty_per_flag"`
	AutoFixEnabled   bool    `bson:"auto_fix_enabled" json:"auto_fix_enabled"`
	AutoFixMaxPasses int     `bson:"auto_fix_max_passes" json:"auto_fix_max_passes"`
}

// EmbeddingConfig is read-only; the model and dimension are fixed per
// deployment and mirrored into profiles for visibility.
type EmbeddingConfig struct {
	ModelID   string `bson:"model_id" json:"model_id"`
	Dimension int    `bson:"dimension" json:"dimension"`
	MaxTokens int    `bson:"max_tokens" json:"max_tokens"`
}

// DefaultProfile returns the built-in profile seeded on first start.
// minChars is the deployment's quality floor; values below 1 fall back to 50.
func DefaultProfile(embeddingModel string, dimension, minChars int) ProcessingProfile {
	if minChars <= 0 {
		minChars = 50
	}
	now := time.Now()
	return ProcessingProfile{
		ID:   "default",
		Name: "Default",
		Conversion: ConversionConfig{
			PDFConverter:  "fast",
			PDFOCRMode:    "auto",
			TableRowLimit: 500,
			TableColLimit: 50,
			MaxFileSizeMB: 50,
		},
		Chunking: ChunkingConfig{
			TargetChars:               1000,
			OverlapChars:              150,
			HeaderLevels:              3,
			PresentationMinChunkChars: 200,
			TabularRowsPerChunk:       50,
		},
		Quality: QualityConfig{
			MinChars:         minChars,
			MaxChars:         8000,
			PenaltyPerFlag:   0.2,
			AutoFixEnabled:   false,
			AutoFixMaxPasses: 1,
		},
		Embedding: EmbeddingConfig{
			ModelID:   embeddingModel,
			Dimension: dimension,
			MaxTokens: 2048,
		},
		IsDefault: true,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
