package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

type fakeProfileSource struct {
	profile models.ProcessingProfile
}

func (f *fakeProfileSource) Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error) {
	copied := f.profile
	return &copied, nil
}

func newReconcilerFixture(t *testing.T, status, category string) (*CallbackReconciler, *fakeDocumentStore, *fakeChunkWriter) {
	t.Helper()
	docs := &fakeDocumentStore{doc: &models.Document{
		ID:             "doc-1",
		Status:         status,
		Format:         models.FormatPDF,
		FormatCategory: category,
		UpdatedAt:      time.Now(),
	}}
	chunks := &fakeChunkWriter{}
	machine := NewStateMachine(docs, chunks, nil)
	profiles := &fakeProfileSource{profile: fastLaneProfile()}
	return NewCallbackReconciler(machine, docs, chunks, &fakeEmbedder{dim: 4}, profiles, nil), docs, chunks
}

type fakeConversionQueue struct {
	canRetry bool
	retries  []string
	released []string
}

func (f *fakeConversionQueue) RetryConversion(ctx context.Context, doc *models.Document) (bool, error) {
	if !f.canRetry {
		return false, nil
	}
	f.retries = append(f.retries, doc.ID)
	return true, nil
}

func (f *fakeConversionQueue) ReleaseReservation(ctx context.Context, documentID string) {
	f.released = append(f.released, documentID)
}

func successPayload(markdown string, pages int) CallbackPayload {
	return CallbackPayload{
		DocumentID: "doc-1",
		Success:    true,
		Result: &CallbackResult{
			Markdown:         markdown,
			PageCount:        pages,
			ProcessingTimeMs: 1200,
		},
	}
}

func TestReconcileUnknownDocument(t *testing.T) {
	rec, _, _ := newReconcilerFixture(t, models.StatusProcessing, models.CategoryDocument)

	_, err := rec.Reconcile(context.Background(), CallbackPayload{DocumentID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReconcileFailureCallback(t *testing.T) {
	rec, docs, _ := newReconcilerFixture(t, models.StatusProcessing, models.CategoryDocument)

	result, err := rec.Reconcile(context.Background(), CallbackPayload{
		DocumentID: "doc-1",
		Success:    false,
		Error:      &CallbackError{Code: models.FailPasswordProtected, Message: "encrypted PDF"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Acknowledged || result.Outcome != OutcomeFailed {
		t.Fatalf("result: %+v", result)
	}
	if docs.doc.Status != models.StatusFailed || docs.doc.FailReason != models.FailPasswordProtected {
		t.Fatalf("got status %s reason %q", docs.doc.Status, docs.doc.FailReason)
	}
}

func TestReconcileSuccess(t *testing.T) {
	rec, docs, chunks := newReconcilerFixture(t, models.StatusProcessing, models.CategoryDocument)

	markdown := "# Report\n" + strings.Repeat("Substantial converted prose from the PDF. ", 20)
	result, err := rec.Reconcile(context.Background(), successPayload(markdown, 3))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s", result.Outcome)
	}
	if docs.doc.Status != models.StatusCompleted {
		t.Fatalf("status: got %s reason %q", docs.doc.Status, docs.doc.FailReason)
	}
	stored := chunks.replaced["doc-1"]
	if len(stored) == 0 {
		t.Fatal("no chunks stored")
	}
	for i, chunk := range stored {
		if chunk.Page < 1 || chunk.Page > 3 {
			t.Fatalf("chunk %d page %d out of range", i, chunk.Page)
		}
	}
	last := stored[len(stored)-1]
	if last.Page != 3 {
		t.Fatalf("final chunk page: got %d, want 3", last.Page)
	}
}

func TestReconcileDuplicateCallbackIsNoOp(t *testing.T) {
	rec, docs, chunks := newReconcilerFixture(t, models.StatusCompleted, models.CategoryDocument)
	docs.doc.ChunkCount = 5

	result, err := rec.Reconcile(context.Background(), successPayload("any markdown at all", 1))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Acknowledged || result.Outcome != OutcomeSuccess {
		t.Fatalf("result: %+v", result)
	}
	if len(chunks.replaced) != 0 {
		t.Fatal("duplicate callback rewrote chunks")
	}
	if len(docs.applied) != 0 {
		t.Fatal("duplicate callback transitioned the document")
	}
}

func TestReconcileQualityRejection(t *testing.T) {
	rec, docs, _ := newReconcilerFixture(t, models.StatusProcessing, models.CategoryDocument)

	result, err := rec.Reconcile(context.Background(), successPayload("tiny", 1))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeQualityFailed {
		t.Fatalf("outcome: got %s", result.Outcome)
	}
	if docs.doc.FailReason != models.FailTextTooShort {
		t.Fatalf("fail reason: got %q", docs.doc.FailReason)
	}
}

func TestReconcileTransientFailureRequeues(t *testing.T) {
	docs := &fakeDocumentStore{doc: &models.Document{
		ID:             "doc-1",
		Status:         models.StatusProcessing,
		Format:         models.FormatPDF,
		FormatCategory: models.CategoryDocument,
		RetryCount:     1,
		UpdatedAt:      time.Now(),
	}}
	chunks := &fakeChunkWriter{}
	machine := NewStateMachine(docs, chunks, nil)
	queue := &fakeConversionQueue{canRetry: true}
	rec := NewCallbackReconciler(machine, docs, chunks, &fakeEmbedder{dim: 4}, &fakeProfileSource{profile: fastLaneProfile()}, queue)

	result, err := rec.Reconcile(context.Background(), CallbackPayload{
		DocumentID: "doc-1",
		Success:    false,
		Error:      &CallbackError{Code: "TIMEOUT", Message: "converter timed out"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Acknowledged || result.Outcome != OutcomeFailed {
		t.Fatalf("result: %+v", result)
	}
	// Requeued, so the document stays PROCESSING with no fail reason.
	if docs.doc.Status != models.StatusProcessing {
		t.Fatalf("status: got %s", docs.doc.Status)
	}
	if len(queue.retries) != 1 {
		t.Fatalf("retries: got %v", queue.retries)
	}
}

func TestReconcileTransientFailureExhaustedBudget(t *testing.T) {
	docs := &fakeDocumentStore{doc: &models.Document{
		ID:             "doc-1",
		Status:         models.StatusProcessing,
		Format:         models.FormatPDF,
		FormatCategory: models.CategoryDocument,
		RetryCount:     3,
		UpdatedAt:      time.Now(),
	}}
	chunks := &fakeChunkWriter{}
	machine := NewStateMachine(docs, chunks, nil)
	queue := &fakeConversionQueue{canRetry: false}
	rec := NewCallbackReconciler(machine, docs, chunks, &fakeEmbedder{dim: 4}, &fakeProfileSource{profile: fastLaneProfile()}, queue)

	result, err := rec.Reconcile(context.Background(), CallbackPayload{
		DocumentID: "doc-1",
		Success:    false,
		Error:      &CallbackError{Code: "TIMEOUT", Message: "converter timed out"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("outcome: got %s", result.Outcome)
	}
	if docs.doc.Status != models.StatusFailed || docs.doc.FailReason != "TIMEOUT" {
		t.Fatalf("got status %s reason %q", docs.doc.Status, docs.doc.FailReason)
	}
	if len(queue.released) != 1 {
		t.Fatalf("reservation not released: %v", queue.released)
	}
}

func TestReconcileSuccessWithoutResult(t *testing.T) {
	rec, docs, _ := newReconcilerFixture(t, models.StatusProcessing, models.CategoryDocument)

	_, err := rec.Reconcile(context.Background(), CallbackPayload{DocumentID: "doc-1", Success: true})
	if err == nil {
		t.Fatal("expected an error for a success callback without a result")
	}
	if docs.doc.Status != models.StatusProcessing {
		t.Fatalf("status moved to %s on malformed callback", docs.doc.Status)
	}
}

func TestReconcilePresentationUsesSlideChunking(t *testing.T) {
	rec, docs, chunks := newReconcilerFixture(t, models.StatusProcessing, models.CategoryPresentation)

	slide := strings.Repeat("Talking point on this slide. ", 3)
	markdown := "# Slide 1\n" + slide + "\n# Slide 2\n" + slide + "\n# Slide 3\n" + slide
	result, err := rec.Reconcile(context.Background(), successPayload(markdown, 3))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("outcome: got %s, doc reason %q", result.Outcome, docs.doc.FailReason)
	}
	for i, chunk := range chunks.replaced["doc-1"] {
		if i < len(chunks.replaced["doc-1"])-1 && len([]rune(chunk.Content)) < 200 {
			t.Fatalf("chunk %d below presentation minimum", i)
		}
	}
}
