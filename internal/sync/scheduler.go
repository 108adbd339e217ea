package sync

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

// DefaultSyncInterval applies to bindings without an explicit interval.
const DefaultSyncInterval = 15 * time.Minute

// BindingLister provides the bindings the scheduler should keep synced.
type BindingLister interface {
	ListEnabled(ctx context.Context) ([]models.RemoteFolderBinding, error)
}

// Scheduler drives periodic sync runs, one gocron job per enabled binding.
// Refresh reconciles the job set against the store after binding CRUD.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	synchronizer *Synchronizer
	bindings     BindingLister
	runTimeout   time.Duration
}

func NewScheduler(synchronizer *Synchronizer, bindings BindingLister, runTimeout time.Duration) *Scheduler {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Scheduler{
		scheduler:    s,
		synchronizer: synchronizer,
		bindings:     bindings,
		runTimeout:   runTimeout,
	}
}

// Start schedules every enabled binding and begins running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler; in-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// Refresh rebuilds the job set from the current enabled bindings. Existing
// jobs are dropped and re-added so interval edits take effect.
func (s *Scheduler) Refresh(ctx context.Context) error {
	bindings, err := s.bindings.ListEnabled(ctx)
	if err != nil {
		return err
	}

	s.scheduler.Clear()
	for _, binding := range bindings {
		interval := DefaultSyncInterval
		if binding.SyncIntervalMin > 0 {
			interval = time.Duration(binding.SyncIntervalMin) * time.Minute
		}
		bindingID := binding.ID
		_, err := s.scheduler.Every(interval).Tag(bindingID).Do(func() {
			s.runOnce(bindingID)
		})
		if err != nil {
			return err
		}
		logger.Info("sync scheduled", "binding_id", bindingID, "interval", interval.String())
	}
	return nil
}

func (s *Scheduler) runOnce(bindingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	_, err := s.synchronizer.Sync(ctx, bindingID)
	if errors.Is(err, store.ErrSyncInProgress) {
		logger.Info("sync already running, skipping tick", "binding_id", bindingID)
		return
	}
	if err != nil {
		logger.Error("scheduled sync failed", "binding_id", bindingID, "error", err.Error())
	}
}
