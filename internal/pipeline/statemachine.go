package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

// ErrStateConflict is returned when a concurrent transition wins both the
// original attempt and the single retry.
var ErrStateConflict = errors.New("STATE_CONFLICT")

// ErrInvalidTransition is returned for transitions outside the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// DocumentStore is the slice of the metadata store the state machine needs.
// Every status mutation goes through ApplyTransition, which must compare the
// document's updated_at against expect and fail with store.ErrVersionConflict
// when another writer got there first.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	ApplyTransition(ctx context.Context, id string, expect time.Time, change store.DocumentChange) error
}

// ChunkStore is the slice of the chunk store the state machine needs for
// terminal-to-PENDING resets, which drop the previous chunk set.
type ChunkStore interface {
	DeleteForDocument(ctx context.Context, documentID string) error
}

// StateMachine is the only component that moves documents between statuses.
// All other components (fast lane, reconciler, synchronizer) delegate here so
// there is exactly one canonical transition site.
type StateMachine struct {
	documents DocumentStore
	chunks    ChunkStore
	bus       *events.Bus
}

func NewStateMachine(documents DocumentStore, chunks ChunkStore, bus *events.Bus) *StateMachine {
	return &StateMachine{documents: documents, chunks: chunks, bus: bus}
}

// MarkProcessing moves PENDING -> PROCESSING. Calling it on a document that is
// already PROCESSING is a no-op, so worker retries are safe.
func (sm *StateMachine) MarkProcessing(ctx context.Context, id string) error {
	return sm.transition(ctx, id, "worker pickup", func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status == models.StatusProcessing {
			return store.DocumentChange{}, false, nil
		}
		if doc.Status != models.StatusPending {
			return store.DocumentChange{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusProcessing)
		}
		return store.DocumentChange{Status: models.StatusProcessing, ClearFailReason: true}, true, nil
	})
}

// MarkCompleted moves PROCESSING -> COMPLETED. The chunk count must be
// positive; callers persist chunks first, in the same logical transaction.
func (sm *StateMachine) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	if chunkCount <= 0 {
		return fmt.Errorf("%w: COMPLETED requires chunkCount > 0", ErrInvalidTransition)
	}
	return sm.transition(ctx, id, "processing finished", func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status != models.StatusProcessing {
			return store.DocumentChange{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusCompleted)
		}
		active := true
		return store.DocumentChange{
			Status:          models.StatusCompleted,
			ChunkCount:      &chunkCount,
			IsActive:        &active,
			ClearFailReason: true,
		}, true, nil
	})
}

// MarkFailed moves PENDING/PROCESSING -> FAILED with the given reason.
// A document already FAILED keeps its original reason (first failure wins).
func (sm *StateMachine) MarkFailed(ctx context.Context, id, failReason string) error {
	if failReason == "" {
		return fmt.Errorf("%w: FAILED requires a failReason", ErrInvalidTransition)
	}
	return sm.transition(ctx, id, failReason, func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status == models.StatusFailed {
			return store.DocumentChange{}, false, nil
		}
		if doc.Status == models.StatusCompleted {
			return store.DocumentChange{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusFailed)
		}
		return store.DocumentChange{Status: models.StatusFailed, FailReason: failReason}, true, nil
	})
}

// MarkRemoved flags a remote-sourced document whose remote file disappeared.
// Unlike MarkFailed it is allowed from COMPLETED.
func (sm *StateMachine) MarkRemoved(ctx context.Context, id string) error {
	return sm.transition(ctx, id, models.FailRemovedFromRemote, func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status == models.StatusFailed && doc.FailReason == models.FailRemovedFromRemote {
			return store.DocumentChange{}, false, nil
		}
		inactive := false
		return store.DocumentChange{
			Status:     models.StatusFailed,
			FailReason: models.FailRemovedFromRemote,
			IsActive:   &inactive,
		}, true, nil
	})
}

// RestoreCompleted undoes a REMOVED_FROM_REMOTE soft delete when the remote
// file reappears with unchanged content.
func (sm *StateMachine) RestoreCompleted(ctx context.Context, id string) error {
	return sm.transition(ctx, id, "remote file restored", func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status != models.StatusFailed || doc.FailReason != models.FailRemovedFromRemote {
			return store.DocumentChange{}, false, nil
		}
		active := true
		return store.DocumentChange{
			Status:          models.StatusCompleted,
			IsActive:        &active,
			ClearFailReason: true,
		}, true, nil
	})
}

// ResetToPending moves a terminal document back to PENDING for a sync-driven
// reprocess. It clears the fail reason and drops the existing chunk set.
func (sm *StateMachine) ResetToPending(ctx context.Context, id string) error {
	err := sm.transition(ctx, id, "sync reprocess", func(doc *models.Document) (store.DocumentChange, bool, error) {
		if doc.Status == models.StatusPending {
			return store.DocumentChange{}, false, nil
		}
		if !models.IsTerminal(doc.Status) {
			return store.DocumentChange{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusPending)
		}
		zero := 0
		inactive := false
		return store.DocumentChange{
			Status:          models.StatusPending,
			ChunkCount:      &zero,
			IsActive:        &inactive,
			ClearFailReason: true,
		}, true, nil
	})
	if err != nil {
		return err
	}
	return sm.chunks.DeleteForDocument(ctx, id)
}

// transition loads the document, computes the change under its current state
// and applies it with optimistic locking. A version conflict is retried once
// against the fresh state, then surfaced as ErrStateConflict.
func (sm *StateMachine) transition(ctx context.Context, id, reason string, decide func(*models.Document) (store.DocumentChange, bool, error)) error {
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := sm.documents.Get(ctx, id)
		if err != nil {
			return err
		}

		change, apply, err := decide(doc)
		if err != nil {
			return err
		}
		if !apply {
			return nil
		}

		err = sm.documents.ApplyTransition(ctx, id, doc.UpdatedAt, change)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		logger.Info("document status changed",
			"document_id", id, "from", doc.Status, "to", change.Status, "reason", reason)
		if sm.bus != nil {
			sm.bus.Emit(events.DocumentStatusChanged, map[string]interface{}{
				"document_id": id,
				"from":        doc.Status,
				"to":          change.Status,
				"reason":      reason,
			})
		}
		return nil
	}
	return ErrStateConflict
}
