// Package queue defines the asynq task types and handlers for the heavy
// processing lane. The queue carries conversion jobs only; raw text formats
// run inline on the fast lane and never come through here.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"doc-ingest-platform/internal/converter"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

const (
	// TaskConvertDocument dispatches a heavy-lane file to the converter.
	TaskConvertDocument = "document:convert"

	// QueueIngest is the asynq queue name for conversion jobs.
	QueueIngest = "ingest"
)

// reserveLockPrefix keys the per-document reserve lock in redis. The TTL
// doubles as the reservation's visibility timeout.
const reserveLockPrefix = "ingest:reserve:"

// ConvertPayload is the job body. The profile is a frozen copy resolved at
// enqueue time, so later profile edits never affect queued work.
type ConvertPayload struct {
	DocumentID     string                   `json:"document_id"`
	FilePath       string                   `json:"file_path"`
	Format         string                   `json:"format"`
	FormatCategory string                   `json:"format_category"`
	Profile        models.ProcessingProfile `json:"profile"`
}

// NewConvertTask builds the asynq task for a heavy-lane document.
func NewConvertTask(payload ConvertPayload, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode convert payload: %w", err)
	}
	return asynq.NewTask(
		TaskConvertDocument,
		body,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Queue(QueueIngest),
	), nil
}

// RetryDelay doubles the base delay per attempt: base, 2x, 4x, ...
func RetryDelay(baseDelay time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, task *asynq.Task) time.Duration {
		return baseDelay << n
	}
}

// Documents is the slice of the document store the handler needs.
type Documents interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	IncrementRetry(ctx context.Context, id string) error
}

// Dispatcher hands a job to the external converter.
type Dispatcher interface {
	Dispatch(ctx context.Context, job converter.Job) error
}

// Locker is the slice of the redis client used for reserve locks.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// TaskProcessor handles conversion tasks: reserve the document, move it to
// PROCESSING and hand the file to the converter. The converter's callback
// finishes the job through the reconciler; this handler never completes a
// document itself.
type TaskProcessor struct {
	machine   *pipeline.StateMachine
	documents Documents
	converter Dispatcher
	redis     Locker
	lockTTL   time.Duration
}

func NewTaskProcessor(machine *pipeline.StateMachine, documents Documents, dispatcher Dispatcher, rdb Locker, lockTTL time.Duration) *TaskProcessor {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &TaskProcessor{
		machine:   machine,
		documents: documents,
		converter: dispatcher,
		redis:     rdb,
		lockTTL:   lockTTL,
	}
}

// HandleConvert processes one conversion task. Permanent failures short-
// circuit through asynq.SkipRetry; everything else retries with backoff.
func (p *TaskProcessor) HandleConvert(ctx context.Context, t *asynq.Task) error {
	var payload ConvertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	// At most one active job per document. A held lock means another worker
	// is already on it; this delivery is a duplicate and is dropped.
	lockKey := reserveLockPrefix + payload.DocumentID
	acquired, err := p.redis.SetNX(ctx, lockKey, "1", p.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire reserve lock: %w", err)
	}
	if !acquired {
		logger.Warn("duplicate conversion job dropped", "document_id", payload.DocumentID)
		return nil
	}

	doc, err := p.documents.Get(ctx, payload.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		p.releaseLock(ctx, lockKey)
		return fmt.Errorf("document %s gone: %w", payload.DocumentID, asynq.SkipRetry)
	}
	if err != nil {
		p.releaseLock(ctx, lockKey)
		return err
	}
	if models.IsTerminal(doc.Status) {
		logger.Info("conversion job for terminal document dropped",
			"document_id", doc.ID, "status", doc.Status)
		p.releaseLock(ctx, lockKey)
		return nil
	}

	if err := p.machine.MarkProcessing(ctx, payload.DocumentID); err != nil {
		p.releaseLock(ctx, lockKey)
		return err
	}
	if err := p.documents.IncrementRetry(ctx, payload.DocumentID); err != nil {
		logger.Warn("failed to record attempt", "document_id", payload.DocumentID, "error", err.Error())
	}

	err = p.converter.Dispatch(ctx, converter.Job{
		DocumentID:     payload.DocumentID,
		FilePath:       payload.FilePath,
		Format:         payload.Format,
		FormatCategory: payload.FormatCategory,
		Conversion:     payload.Profile.Conversion,
	})
	if errors.Is(err, converter.ErrRejected) {
		p.releaseLock(ctx, lockKey)
		failReason := rejectionReason(err)
		if markErr := p.machine.MarkFailed(ctx, payload.DocumentID, failReason); markErr != nil {
			logger.Error("failed to mark rejected document",
				"document_id", payload.DocumentID, "error", markErr.Error())
		}
		return fmt.Errorf("converter rejected document %s: %v: %w", payload.DocumentID, err, asynq.SkipRetry)
	}
	if err != nil {
		p.releaseLock(ctx, lockKey)
		return err
	}

	// The lock stays held until the callback or the TTL; the converter owns
	// the job from here.
	logger.Info("conversion dispatched", "document_id", payload.DocumentID,
		"format", payload.Format, "attempt", doc.RetryCount+1)
	return nil
}

func (p *TaskProcessor) releaseLock(ctx context.Context, key string) {
	if err := p.redis.Del(ctx, key).Err(); err != nil {
		logger.Warn("failed to release reserve lock", "key", key, "error", err.Error())
	}
}

// ReleaseReservation frees a document's reserve lock; the reconciler calls
// this when a callback lands.
func (p *TaskProcessor) ReleaseReservation(ctx context.Context, documentID string) {
	p.releaseLock(ctx, reserveLockPrefix+documentID)
}

// rejectionReason maps a converter rejection onto a permanent fail code.
// Known codes pass through; anything else is a processing error with detail.
func rejectionReason(err error) string {
	msg := err.Error()
	for _, code := range []string{
		models.FailPasswordProtected,
		models.FailCorruptFile,
		models.FailUnsupportedFormat,
	} {
		if strings.Contains(msg, code) {
			return code
		}
	}
	detail := msg
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return fmt.Sprintf("%s:%s", models.FailProcessingError, detail)
}

// NewErrorHandler marks a document FAILED when its conversion task burns the
// whole retry budget without reaching the converter.
func NewErrorHandler(machine *pipeline.StateMachine) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		if task.Type() != TaskConvertDocument {
			return
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried < maxRetry {
			return
		}

		var payload ConvertPayload
		if unmarshalErr := json.Unmarshal(task.Payload(), &payload); unmarshalErr != nil {
			return
		}
		detail := err.Error()
		if len(detail) > 200 {
			detail = detail[:200]
		}
		failReason := fmt.Sprintf("%s:%s", models.FailProcessingError, detail)
		if markErr := machine.MarkFailed(ctx, payload.DocumentID, failReason); markErr != nil {
			logger.Error("failed to mark exhausted job",
				"document_id", payload.DocumentID, "error", markErr.Error())
		}
	}
}
