package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/models"
)

// RedisConnOpt builds the asynq connection options from either a full
// redis:// URL or a bare host:port pair, mirroring the main redis client.
func RedisConnOpt(url, password string, db int) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		return asynq.ParseRedisURI(url)
	}
	return asynq.RedisClientOpt{Addr: url, Password: password, DB: db}, nil
}

// ProfileSource resolves the profile frozen into a requeued job.
type ProfileSource interface {
	Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error)
}

// Enqueuer pushes conversion jobs onto the heavy lane. The upload and sync
// paths enqueue fresh jobs; the reconciler requeues transient failures.
type Enqueuer struct {
	client      *asynq.Client
	locker      Locker
	profiles    ProfileSource
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
}

func NewEnqueuer(client *asynq.Client, locker Locker, profiles ProfileSource, maxAttempts int, baseDelay, timeout time.Duration) *Enqueuer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Enqueuer{
		client:      client,
		locker:      locker,
		profiles:    profiles,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		timeout:     timeout,
	}
}

// EnqueueConvert queues the first conversion attempt for a document.
func (e *Enqueuer) EnqueueConvert(ctx context.Context, doc *models.Document, profile models.ProcessingProfile) error {
	task, err := NewConvertTask(ConvertPayload{
		DocumentID:     doc.ID,
		FilePath:       doc.FilePath,
		Format:         doc.Format,
		FormatCategory: doc.FormatCategory,
		Profile:        profile,
	}, e.maxAttempts-1, e.timeout)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue conversion: %w", err)
	}
	logger.Info("conversion enqueued", "document_id", doc.ID, "task_id", info.ID)
	return nil
}

// RetryConversion requeues a document after a transient converter failure,
// with the same exponential backoff the dispatch path uses. Returns false
// once the attempt budget is spent.
func (e *Enqueuer) RetryConversion(ctx context.Context, doc *models.Document) (bool, error) {
	if doc.RetryCount >= e.maxAttempts {
		return false, nil
	}

	profile, err := e.profiles.Resolve(ctx, doc.ProfileID, "")
	if err != nil {
		return false, err
	}

	task, err := NewConvertTask(ConvertPayload{
		DocumentID:     doc.ID,
		FilePath:       doc.FilePath,
		Format:         doc.Format,
		FormatCategory: doc.FormatCategory,
		Profile:        *profile,
	}, e.maxAttempts-1, e.timeout)
	if err != nil {
		return false, err
	}

	attempt := doc.RetryCount
	if attempt < 1 {
		attempt = 1
	}
	delay := e.baseDelay << (attempt - 1)

	// Free the reservation first so the delayed delivery can reserve again.
	e.ReleaseReservation(ctx, doc.ID)

	info, err := e.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay))
	if err != nil {
		return false, fmt.Errorf("failed to requeue conversion: %w", err)
	}
	logger.Info("conversion requeued", "document_id", doc.ID,
		"task_id", info.ID, "delay", delay.String(), "attempt", doc.RetryCount+1)
	return true, nil
}

// ReleaseReservation frees a document's reserve lock.
func (e *Enqueuer) ReleaseReservation(ctx context.Context, documentID string) {
	if err := e.locker.Del(ctx, reserveLockPrefix+documentID).Err(); err != nil {
		logger.Warn("failed to release reserve lock", "document_id", documentID, "error", err.Error())
	}
}
