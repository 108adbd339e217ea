package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-ingest-platform/internal/ai"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/models"
)

// ChunkWriter is the persistence slice the processors need: replace a
// document's chunk set atomically and report how many were written.
type ChunkWriter interface {
	ReplaceForDocument(ctx context.Context, documentID string, chunks []models.Chunk) (int, error)
}

// FastLaneProcessor handles raw text formats (json, txt, md) inline, without
// the queue. It runs once per upload: any failure marks the document FAILED
// immediately, there are no job-level retries on this lane.
type FastLaneProcessor struct {
	machine     *StateMachine
	documents   DocumentStore
	chunks      ChunkWriter
	embedder    ai.Embedder
	sparse      *ai.SparseEncoder
	noiseWarn   float64
	noiseReject float64
}

func NewFastLaneProcessor(machine *StateMachine, documents DocumentStore, chunks ChunkWriter, embedder ai.Embedder) *FastLaneProcessor {
	return &FastLaneProcessor{
		machine:     machine,
		documents:   documents,
		chunks:      chunks,
		embedder:    embedder,
		sparse:      ai.NewSparseEncoder(),
		noiseWarn:   0.5,
		noiseReject: 0.8,
	}
}

// SetNoiseThresholds overrides the default gate thresholds from deployment
// config.
func (p *FastLaneProcessor) SetNoiseThresholds(warn, reject float64) {
	if warn > 0 {
		p.noiseWarn = warn
	}
	if reject > 0 {
		p.noiseReject = reject
	}
}

// Process runs the whole fast path for one document: read, gate, chunk,
// embed, persist. The profile is the frozen copy resolved at upload time.
func (p *FastLaneProcessor) Process(ctx context.Context, documentID string, profile models.ProcessingProfile) error {
	if err := p.machine.MarkProcessing(ctx, documentID); err != nil {
		return err
	}

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}

	text, failReason, err := p.extractText(doc)
	if err != nil {
		return p.fail(ctx, documentID, failReason, err)
	}

	gate := NewQualityGate(profile.Quality.MinChars, p.noiseWarn, p.noiseReject, profile.Quality.PenaltyPerFlag)
	verdict := gate.Check(text)
	if !verdict.Passed {
		reason := models.FailTextTooShort
		if verdict.Reason == ReasonExcessiveNoise {
			reason = models.FailExcessiveNoise
		}
		return p.fail(ctx, documentID, reason, fmt.Errorf("quality gate: %s", verdict.Reason))
	}

	chunker := NewChunker(profile.Chunking)
	pieces := chunker.Chunk(text)
	if len(pieces) == 0 {
		return p.fail(ctx, documentID, models.FailNoContent, fmt.Errorf("no chunks produced"))
	}

	vectors, err := p.embedPieces(ctx, pieces)
	if err != nil {
		return p.fail(ctx, documentID, models.FailProcessingError, err)
	}

	records := AssembleChunks(documentID, pieces, vectors, gate, p.sparse)
	count, err := p.chunks.ReplaceForDocument(ctx, documentID, records)
	if err != nil {
		return p.fail(ctx, documentID, models.FailProcessingError, err)
	}

	if err := p.machine.MarkCompleted(ctx, documentID, count); err != nil {
		return err
	}
	logger.Info("fast lane completed", "document_id", documentID, "chunks", count)
	return nil
}

// embedPieces batches all chunk contents through the embedder. A transient
// provider failure gets exactly one extra attempt; the fast lane has no
// queue-level retry behind it.
func (p *FastLaneProcessor) embedPieces(ctx context.Context, pieces []Piece) ([][]float32, error) {
	return embedAll(ctx, p.embedder, pieces)
}

// embedAll embeds every piece in order, retrying a transient provider
// failure once.
func embedAll(ctx context.Context, embedder ai.Embedder, pieces []Piece) ([][]float32, error) {
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = embedInput(piece)
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil && ai.IsTransient(err) {
		logger.Warn("retrying transient embedding failure", "error", err.Error())
		time.Sleep(time.Second)
		vectors, err = embedder.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return vectors, nil
}

func (p *FastLaneProcessor) extractText(doc *models.Document) (string, string, error) {
	data, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return "", models.FailProcessingError, fmt.Errorf("failed to read upload: %w", err)
	}

	if doc.Format == models.FormatJSON {
		text, err := JSONToText(data)
		if err != nil {
			return "", models.FailInvalidJSON, err
		}
		return text, "", nil
	}
	return string(data), "", nil
}

func (p *FastLaneProcessor) fail(ctx context.Context, documentID, reason string, cause error) error {
	failReason := reason
	if reason == models.FailProcessingError && cause != nil {
		failReason = fmt.Sprintf("%s:%s", models.FailProcessingError, truncateDetail(cause.Error()))
	}
	logger.Error("fast lane failed", "document_id", documentID, "reason", failReason, "error", cause.Error())
	if err := p.machine.MarkFailed(ctx, documentID, failReason); err != nil {
		return err
	}
	return cause
}

// AssembleChunks builds storable chunk records from chunker output and the
// matching embedding vectors. Scores and flags come from the gate; the sparse
// vector and search text feed the lexical retriever.
func AssembleChunks(documentID string, pieces []Piece, vectors [][]float32, gate *QualityGate, sparse *ai.SparseEncoder) []models.Chunk {
	now := time.Now().UTC()
	records := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		quality := gate.ScoreChunk(piece.Content, piece.Breadcrumbs)
		record := models.Chunk{
			ID:           uuid.New().String(),
			DocumentID:   documentID,
			ChunkIndex:   piece.Index,
			Content:      piece.Content,
			CharStart:    piece.CharStart,
			CharEnd:      piece.CharEnd,
			Heading:      piece.Heading,
			Breadcrumbs:  piece.Breadcrumbs,
			Page:         piece.Page,
			QualityScore: quality.Score,
			QualityFlags: quality.Flags,
			ChunkType:    piece.ChunkType,
			TokenCount:   piece.TokenCount,
			SearchVector: ai.SearchText(piece.Content),
			CreatedAt:    now,
		}
		if i < len(vectors) {
			record.Embedding = vectors[i]
		}
		if sparse != nil {
			record.SparseEmbedding = sparse.Encode(piece.Content)
		}
		records[i] = record
	}
	return records
}

// embedInput prefixes the chunk content with its breadcrumb trail so the
// vector carries the structural context the chunk text alone lacks.
func embedInput(piece Piece) string {
	if len(piece.Breadcrumbs) == 0 {
		return piece.Content
	}
	return strings.Join(piece.Breadcrumbs, " > ") + "\n" + piece.Content
}

// JSONToText validates a JSON payload and flattens it into indexable lines,
// one "path: value" pair per scalar, with object keys sorted for stable
// output.
func JSONToText(data []byte) (string, error) {
	var value interface{}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	var lines []string
	flattenJSON("", value, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(path string, value interface{}, lines *[]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(joinPath(path, k), v[k], lines)
		}
	case []interface{}:
		for i, item := range v {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, lines)
		}
	case nil:
		// Nulls carry no searchable content.
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %v", path, v))
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func truncateDetail(detail string) string {
	const max = 200
	if len(detail) > max {
		return detail[:max]
	}
	return detail
}
