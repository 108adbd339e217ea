package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

// fakeDocumentStore keeps one document in memory and can be told to lose the
// optimistic-lock race a fixed number of times.
type fakeDocumentStore struct {
	doc       *models.Document
	conflicts int
	applied   []store.DocumentChange
}

func (f *fakeDocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, store.ErrNotFound
	}
	copied := *f.doc
	return &copied, nil
}

func (f *fakeDocumentStore) ApplyTransition(ctx context.Context, id string, expect time.Time, change store.DocumentChange) error {
	if f.conflicts > 0 {
		f.conflicts--
		f.doc.UpdatedAt = f.doc.UpdatedAt.Add(time.Millisecond)
		return store.ErrVersionConflict
	}
	if !f.doc.UpdatedAt.Equal(expect) {
		return store.ErrVersionConflict
	}
	f.doc.Status = change.Status
	if change.ClearFailReason {
		f.doc.FailReason = ""
	}
	if change.FailReason != "" {
		f.doc.FailReason = change.FailReason
	}
	if change.ChunkCount != nil {
		f.doc.ChunkCount = *change.ChunkCount
	}
	if change.IsActive != nil {
		f.doc.IsActive = *change.IsActive
	}
	f.doc.UpdatedAt = f.doc.UpdatedAt.Add(time.Millisecond)
	f.applied = append(f.applied, change)
	return nil
}

type fakeChunkStore struct {
	deleted []string
}

func (f *fakeChunkStore) DeleteForDocument(ctx context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

func newTestMachine(status string) (*StateMachine, *fakeDocumentStore, *fakeChunkStore) {
	docs := &fakeDocumentStore{doc: &models.Document{
		ID:        "doc-1",
		Status:    status,
		UpdatedAt: time.Now(),
	}}
	chunks := &fakeChunkStore{}
	return NewStateMachine(docs, chunks, nil), docs, chunks
}

func TestMarkProcessingFromPending(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusPending)

	if err := sm.MarkProcessing(context.Background(), "doc-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if docs.doc.Status != models.StatusProcessing {
		t.Fatalf("status: got %s", docs.doc.Status)
	}
}

func TestMarkProcessingIdempotent(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusProcessing)

	if err := sm.MarkProcessing(context.Background(), "doc-1"); err != nil {
		t.Fatalf("MarkProcessing on PROCESSING: %v", err)
	}
	if len(docs.applied) != 0 {
		t.Fatal("no-op transition wrote to the store")
	}
}

func TestMarkProcessingFromCompletedRejected(t *testing.T) {
	sm, _, _ := newTestMachine(models.StatusCompleted)

	err := sm.MarkProcessing(context.Background(), "doc-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestMarkCompletedRequiresChunks(t *testing.T) {
	sm, _, _ := newTestMachine(models.StatusProcessing)

	err := sm.MarkCompleted(context.Background(), "doc-1", 0)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestMarkCompletedSetsCountAndActive(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusProcessing)
	docs.doc.FailReason = models.FailProcessingError

	if err := sm.MarkCompleted(context.Background(), "doc-1", 7); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if docs.doc.Status != models.StatusCompleted {
		t.Fatalf("status: got %s", docs.doc.Status)
	}
	if docs.doc.ChunkCount != 7 {
		t.Fatalf("chunk count: got %d", docs.doc.ChunkCount)
	}
	if !docs.doc.IsActive {
		t.Fatal("document not active after completion")
	}
	if docs.doc.FailReason != "" {
		t.Fatalf("stale fail reason: %q", docs.doc.FailReason)
	}
}

func TestMarkFailedFirstReasonWins(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusProcessing)

	if err := sm.MarkFailed(context.Background(), "doc-1", models.FailCorruptFile); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := sm.MarkFailed(context.Background(), "doc-1", models.FailProcessingError); err != nil {
		t.Fatalf("second MarkFailed: %v", err)
	}
	if docs.doc.FailReason != models.FailCorruptFile {
		t.Fatalf("fail reason overwritten: %q", docs.doc.FailReason)
	}
}

func TestMarkFailedRequiresReason(t *testing.T) {
	sm, _, _ := newTestMachine(models.StatusProcessing)

	err := sm.MarkFailed(context.Background(), "doc-1", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestMarkFailedFromCompletedRejected(t *testing.T) {
	sm, _, _ := newTestMachine(models.StatusCompleted)

	err := sm.MarkFailed(context.Background(), "doc-1", models.FailProcessingError)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestMarkRemovedAllowedFromCompleted(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusCompleted)
	docs.doc.IsActive = true

	if err := sm.MarkRemoved(context.Background(), "doc-1"); err != nil {
		t.Fatalf("MarkRemoved: %v", err)
	}
	if docs.doc.Status != models.StatusFailed || docs.doc.FailReason != models.FailRemovedFromRemote {
		t.Fatalf("got status %s reason %q", docs.doc.Status, docs.doc.FailReason)
	}
	if docs.doc.IsActive {
		t.Fatal("removed document still active")
	}
}

func TestRestoreCompletedOnlyFromRemoved(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusFailed)
	docs.doc.FailReason = models.FailRemovedFromRemote

	if err := sm.RestoreCompleted(context.Background(), "doc-1"); err != nil {
		t.Fatalf("RestoreCompleted: %v", err)
	}
	if docs.doc.Status != models.StatusCompleted || !docs.doc.IsActive {
		t.Fatalf("got status %s active %v", docs.doc.Status, docs.doc.IsActive)
	}

	// A genuine failure is not restorable.
	docs.doc.Status = models.StatusFailed
	docs.doc.FailReason = models.FailCorruptFile
	if err := sm.RestoreCompleted(context.Background(), "doc-1"); err != nil {
		t.Fatalf("RestoreCompleted no-op: %v", err)
	}
	if docs.doc.Status != models.StatusFailed {
		t.Fatal("restored a document that failed for a real reason")
	}
}

func TestResetToPendingClearsStateAndChunks(t *testing.T) {
	sm, docs, chunks := newTestMachine(models.StatusFailed)
	docs.doc.FailReason = models.FailProcessingError
	docs.doc.ChunkCount = 4
	docs.doc.IsActive = true

	if err := sm.ResetToPending(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ResetToPending: %v", err)
	}
	if docs.doc.Status != models.StatusPending {
		t.Fatalf("status: got %s", docs.doc.Status)
	}
	if docs.doc.FailReason != "" || docs.doc.ChunkCount != 0 || docs.doc.IsActive {
		t.Fatalf("stale state after reset: reason=%q count=%d active=%v",
			docs.doc.FailReason, docs.doc.ChunkCount, docs.doc.IsActive)
	}
	if len(chunks.deleted) != 1 || chunks.deleted[0] != "doc-1" {
		t.Fatalf("chunk cleanup: got %v", chunks.deleted)
	}
}

func TestResetToPendingFromProcessingRejected(t *testing.T) {
	sm, _, _ := newTestMachine(models.StatusProcessing)

	err := sm.ResetToPending(context.Background(), "doc-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionRetriesOnceOnConflict(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusPending)
	docs.conflicts = 1

	if err := sm.MarkProcessing(context.Background(), "doc-1"); err != nil {
		t.Fatalf("transition with one conflict: %v", err)
	}
	if docs.doc.Status != models.StatusProcessing {
		t.Fatalf("status: got %s", docs.doc.Status)
	}
}

func TestTransitionGivesUpAfterRetry(t *testing.T) {
	sm, docs, _ := newTestMachine(models.StatusPending)
	docs.conflicts = 2

	err := sm.MarkProcessing(context.Background(), "doc-1")
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("got %v, want ErrStateConflict", err)
	}
}

func TestTransitionEmitsStatusEvent(t *testing.T) {
	docs := &fakeDocumentStore{doc: &models.Document{
		ID:        "doc-1",
		Status:    models.StatusPending,
		UpdatedAt: time.Now(),
	}}
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe("test")

	sm := NewStateMachine(docs, &fakeChunkStore{}, bus)
	if err := sm.MarkProcessing(context.Background(), "doc-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != events.DocumentStatusChanged {
			t.Fatalf("event type: got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event emitted")
	}
}
