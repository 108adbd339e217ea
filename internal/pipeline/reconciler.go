package pipeline

import (
	"context"
	"fmt"

	"doc-ingest-platform/internal/ai"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/models"
)

// Reconcile outcomes reported back to the converter.
const (
	OutcomeSuccess       = "success"
	OutcomeFailed        = "failed"
	OutcomeQualityFailed = "quality_failed"
	OutcomeNoContent     = "no_content"
)

// CallbackPayload is what the external converter posts when a heavy-lane job
// finishes, in either direction.
type CallbackPayload struct {
	DocumentID string          `json:"documentId" binding:"required"`
	Success    bool            `json:"success"`
	Result     *CallbackResult `json:"result,omitempty"`
	Error      *CallbackError  `json:"error,omitempty"`
}

// CallbackResult carries the converted Markdown and conversion stats.
type CallbackResult struct {
	Markdown         string `json:"markdown"`
	PageCount        int    `json:"pageCount"`
	OCRApplied       bool   `json:"ocrApplied"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// CallbackError is the converter's failure report. Code becomes the
// document's failReason.
type CallbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReconcileResult is the acknowledgement returned to the converter.
type ReconcileResult struct {
	Acknowledged bool   `json:"acknowledged"`
	Outcome      string `json:"outcome"`
}

// ProfileSource resolves the processing profile for a document at reconcile
// time.
type ProfileSource interface {
	Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error)
}

// ConversionQueue lets the reconciler push a transient converter failure back
// onto the heavy lane and free the reserve lock when a job goes terminal.
type ConversionQueue interface {
	// RetryConversion re-enqueues the document with backoff. It returns
	// false when the attempt budget is exhausted.
	RetryConversion(ctx context.Context, doc *models.Document) (bool, error)
	ReleaseReservation(ctx context.Context, documentID string)
}

// CallbackReconciler finalizes heavy-lane jobs from converter callbacks:
// gate, chunk, embed, persist, then the terminal transition. It is idempotent
// per document: a repeated callback after a terminal status is acknowledged
// without side effects.
type CallbackReconciler struct {
	machine     *StateMachine
	documents   DocumentStore
	chunks      ChunkWriter
	embedder    ai.Embedder
	profiles    ProfileSource
	queue       ConversionQueue
	sparse      *ai.SparseEncoder
	noiseWarn   float64
	noiseReject float64
}

func NewCallbackReconciler(machine *StateMachine, documents DocumentStore, chunks ChunkWriter, embedder ai.Embedder, profiles ProfileSource, queue ConversionQueue) *CallbackReconciler {
	return &CallbackReconciler{
		machine:     machine,
		documents:   documents,
		chunks:      chunks,
		embedder:    embedder,
		profiles:    profiles,
		queue:       queue,
		sparse:      ai.NewSparseEncoder(),
		noiseWarn:   0.5,
		noiseReject: 0.8,
	}
}

// SetNoiseThresholds overrides the default gate thresholds from deployment
// config.
func (r *CallbackReconciler) SetNoiseThresholds(warn, reject float64) {
	if warn > 0 {
		r.noiseWarn = warn
	}
	if reject > 0 {
		r.noiseReject = reject
	}
}

// Reconcile applies one converter callback. Unknown documents return
// store.ErrNotFound for the transport layer to map to 404.
func (r *CallbackReconciler) Reconcile(ctx context.Context, payload CallbackPayload) (ReconcileResult, error) {
	doc, err := r.documents.Get(ctx, payload.DocumentID)
	if err != nil {
		return ReconcileResult{}, err
	}

	// Terminal documents have already been reconciled; a duplicate callback
	// is acknowledged and dropped.
	if models.IsTerminal(doc.Status) {
		logger.Info("duplicate callback ignored",
			"document_id", doc.ID, "status", doc.Status)
		outcome := OutcomeSuccess
		if doc.Status == models.StatusFailed {
			outcome = OutcomeFailed
		}
		return ReconcileResult{Acknowledged: true, Outcome: outcome}, nil
	}

	if doc.Status == models.StatusPending {
		if err := r.machine.MarkProcessing(ctx, doc.ID); err != nil {
			return ReconcileResult{}, err
		}
	}

	if !payload.Success {
		code := models.FailProcessingError
		if payload.Error != nil && payload.Error.Code != "" {
			code = payload.Error.Code
		}
		// Transient converter failures go back onto the queue while attempts
		// remain; the document stays PROCESSING across the retry.
		if !models.IsPermanentFailCode(code) && r.queue != nil {
			retried, err := r.queue.RetryConversion(ctx, doc)
			if err != nil {
				return ReconcileResult{}, err
			}
			if retried {
				logger.Info("transient conversion failure requeued",
					"document_id", doc.ID, "code", code, "attempt", doc.RetryCount)
				return ReconcileResult{Acknowledged: true, Outcome: OutcomeFailed}, nil
			}
		}
		if err := r.machine.MarkFailed(ctx, doc.ID, code); err != nil {
			return ReconcileResult{}, err
		}
		r.release(ctx, doc.ID)
		return ReconcileResult{Acknowledged: true, Outcome: OutcomeFailed}, nil
	}

	if payload.Result == nil {
		return ReconcileResult{}, fmt.Errorf("success callback without a result for document %s", doc.ID)
	}
	return r.finalize(ctx, doc, payload.Result)
}

func (r *CallbackReconciler) release(ctx context.Context, documentID string) {
	if r.queue != nil {
		r.queue.ReleaseReservation(ctx, documentID)
	}
}

func (r *CallbackReconciler) finalize(ctx context.Context, doc *models.Document, result *CallbackResult) (ReconcileResult, error) {
	profile, err := r.profiles.Resolve(ctx, doc.ProfileID, "")
	if err != nil {
		return ReconcileResult{}, err
	}

	gate := NewQualityGate(profile.Quality.MinChars, r.noiseWarn, r.noiseReject, profile.Quality.PenaltyPerFlag)
	verdict := gate.Check(result.Markdown)
	if !verdict.Passed {
		reason := models.FailTextTooShort
		if verdict.Reason == ReasonExcessiveNoise {
			reason = models.FailExcessiveNoise
		}
		if err := r.machine.MarkFailed(ctx, doc.ID, reason); err != nil {
			return ReconcileResult{}, err
		}
		r.release(ctx, doc.ID)
		return ReconcileResult{Acknowledged: true, Outcome: OutcomeQualityFailed}, nil
	}

	pieces := r.split(doc, profile, result.Markdown)
	if len(pieces) == 0 {
		if err := r.machine.MarkFailed(ctx, doc.ID, models.FailNoContent); err != nil {
			return ReconcileResult{}, err
		}
		r.release(ctx, doc.ID)
		return ReconcileResult{Acknowledged: true, Outcome: OutcomeNoContent}, nil
	}
	assignPages(pieces, result.PageCount, len(result.Markdown))

	vectors, err := embedAll(ctx, r.embedder, pieces)
	if err != nil {
		// Transient embedding trouble is left for the converter's callback
		// retry; the document stays PROCESSING.
		if ai.IsTransient(err) {
			return ReconcileResult{}, err
		}
		failReason := fmt.Sprintf("%s:%s", models.FailProcessingError, truncateDetail(err.Error()))
		if markErr := r.machine.MarkFailed(ctx, doc.ID, failReason); markErr != nil {
			return ReconcileResult{}, markErr
		}
		r.release(ctx, doc.ID)
		return ReconcileResult{Acknowledged: true, Outcome: OutcomeFailed}, nil
	}

	records := AssembleChunks(doc.ID, pieces, vectors, gate, r.sparse)
	count, err := r.chunks.ReplaceForDocument(ctx, doc.ID, records)
	if err != nil {
		failReason := fmt.Sprintf("%s:%s", models.FailProcessingError, truncateDetail(err.Error()))
		if markErr := r.machine.MarkFailed(ctx, doc.ID, failReason); markErr != nil {
			return ReconcileResult{}, markErr
		}
		r.release(ctx, doc.ID)
		return ReconcileResult{Acknowledged: true, Outcome: OutcomeFailed}, nil
	}

	if err := r.machine.MarkCompleted(ctx, doc.ID, count); err != nil {
		return ReconcileResult{}, err
	}
	r.release(ctx, doc.ID)
	logger.Info("heavy lane completed", "document_id", doc.ID,
		"chunks", count, "pages", result.PageCount, "ocr", result.OCRApplied)
	return ReconcileResult{Acknowledged: true, Outcome: OutcomeSuccess}, nil
}

// split picks the chunking mode from the document's format category.
func (r *CallbackReconciler) split(doc *models.Document, profile *models.ProcessingProfile, markdown string) []Piece {
	chunker := NewChunker(profile.Chunking)
	switch doc.FormatCategory {
	case models.CategoryPresentation:
		return chunker.ChunkPresentation(markdown)
	case models.CategoryTabular:
		return chunker.ChunkTabular(markdown)
	default:
		return chunker.Chunk(markdown)
	}
}

// assignPages spreads page numbers over chunks proportionally to their
// position in the Markdown. The converter reports a page count, not spans,
// so this is an even-density estimate.
func assignPages(pieces []Piece, pageCount, totalLen int) {
	if pageCount <= 0 || totalLen <= 0 {
		return
	}
	for i := range pieces {
		page := 1 + pieces[i].CharStart*pageCount/totalLen
		if page > pageCount {
			page = pageCount
		}
		pieces[i].Page = page
	}
}
