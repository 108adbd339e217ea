// Package ingest owns document intake: dedup, disk persistence, metadata
// creation and lane dispatch. The upload route and the folder synchronizer
// both feed files through the same Intake so every document enters the
// pipeline identically.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/models"
)

// DuplicateError reports that the uploaded content already exists.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content of document %s", e.ExistingID)
}

// Documents is the metadata-store slice intake needs.
type Documents interface {
	Insert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	FindByHash(ctx context.Context, md5Hash string) (*models.Document, error)
}

// Profiles resolves the processing profile frozen into the dispatched job.
type Profiles interface {
	Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error)
}

// FastProcessor runs raw text formats inline.
type FastProcessor interface {
	Process(ctx context.Context, documentID string, profile models.ProcessingProfile) error
}

// HeavyEnqueuer pushes conversion formats onto the queue.
type HeavyEnqueuer interface {
	EnqueueConvert(ctx context.Context, doc *models.Document, profile models.ProcessingProfile) error
}

// Upload is one file entering the pipeline, from either source.
type Upload struct {
	Filename string
	MimeType string
	Content  []byte

	// Explicit per-request profile override; empty falls through to the
	// binding profile and then the default.
	ProfileID string

	// Remote provenance, zero-valued for manual uploads.
	SourceType       string
	RemoteFileID     string
	RemoteFolderID   string
	RemoteModified   *time.Time
	BindingProfileID string
}

// Intake turns accepted files into PENDING documents and dispatches them to
// their processing lane.
type Intake struct {
	documents    Documents
	profiles     Profiles
	router       *pipeline.FormatRouter
	fast         FastProcessor
	heavy        HeavyEnqueuer
	bus          *events.Bus
	storageDir   string
	maxSizeBytes int64
}

func NewIntake(documents Documents, profiles Profiles, fast FastProcessor, heavy HeavyEnqueuer, bus *events.Bus, storageDir string, maxSizeBytes int64) *Intake {
	return &Intake{
		documents:    documents,
		profiles:     profiles,
		router:       pipeline.NewFormatRouter(),
		fast:         fast,
		heavy:        heavy,
		bus:          bus,
		storageDir:   storageDir,
		maxSizeBytes: maxSizeBytes,
	}
}

// Ingest routes, dedups, persists and dispatches one upload. Content that
// hashes to an existing document returns *DuplicateError with the existing
// ID; callers map it to their own duplicate handling (409 for uploads, a
// link for sync).
func (s *Intake) Ingest(ctx context.Context, up Upload) (*models.Document, error) {
	route, err := s.router.Route(up.Filename, up.MimeType, int64(len(up.Content)), s.maxSizeBytes)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(up.Content)
	hash := hex.EncodeToString(sum[:])
	if existing, err := s.documents.FindByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &DuplicateError{ExistingID: existing.ID}
	}

	profile, err := s.profiles.Resolve(ctx, up.ProfileID, up.BindingProfileID)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:              uuid.New().String(),
		Filename:        up.Filename,
		MimeType:        up.MimeType,
		FileSize:        int64(len(up.Content)),
		Format:          route.Format,
		FormatCategory:  route.Category,
		Status:          models.StatusPending,
		MD5Hash:         hash,
		SourceType:      up.SourceType,
		ConnectionState: models.ConnectionStandalone,
		RemoteFileID:    up.RemoteFileID,
		RemoteFolderID:  up.RemoteFolderID,
		RemoteModified:  up.RemoteModified,
		ProfileID:       profile.ID,
	}
	if doc.SourceType == "" {
		doc.SourceType = models.SourceManual
	}
	if doc.RemoteFileID != "" {
		doc.SourceType = models.SourceRemote
		doc.ConnectionState = models.ConnectionLinked
	}

	// Files are stored under the document ID, never the client filename.
	doc.FilePath, err = s.saveFile(doc.ID, route.Format, up.Content)
	if err != nil {
		return nil, err
	}

	if err := s.documents.Insert(ctx, doc); err != nil {
		os.Remove(doc.FilePath)
		// Two racing uploads of the same content: the hash index catches
		// what the pre-check missed.
		if existing, lookupErr := s.documents.FindByHash(ctx, hash); lookupErr == nil && existing != nil && existing.ID != doc.ID {
			return nil, &DuplicateError{ExistingID: existing.ID}
		}
		return nil, err
	}

	if s.bus != nil {
		s.bus.Emit(events.DocumentCreated, map[string]interface{}{
			"document_id": doc.ID,
			"filename":    doc.Filename,
			"format":      doc.Format,
			"lane":        route.Lane,
		})
	}

	if err := s.dispatch(ctx, doc, route.Lane, *profile); err != nil {
		return nil, err
	}
	return doc, nil
}

// Reprocess resets a terminal document to PENDING and re-dispatches it with
// a freshly resolved profile.
func (s *Intake) Reprocess(ctx context.Context, machine *pipeline.StateMachine, documentID string) (*models.Document, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.LaneFor(doc.Format); err != nil {
		return nil, err
	}
	if err := machine.ResetToPending(ctx, documentID); err != nil {
		return nil, err
	}

	doc, err = s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.Redispatch(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Redispatch re-enters an already-stored document into its processing lane.
// The synchronizer uses it after rewriting a changed remote file.
func (s *Intake) Redispatch(ctx context.Context, doc *models.Document) error {
	lane, err := pipeline.LaneFor(doc.Format)
	if err != nil {
		return err
	}
	profile, err := s.profiles.Resolve(ctx, doc.ProfileID, "")
	if err != nil {
		return err
	}
	return s.dispatch(ctx, doc, lane, *profile)
}

func (s *Intake) dispatch(ctx context.Context, doc *models.Document, lane string, profile models.ProcessingProfile) error {
	switch lane {
	case models.LaneFast:
		// The fast lane runs detached from the request: the upload returns
		// 202 while processing continues.
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := s.fast.Process(bg, doc.ID, profile); err != nil {
				logger.Error("fast lane processing failed",
					"document_id", doc.ID, "error", err.Error())
			}
		}()
		return nil
	case models.LaneHeavy:
		return s.heavy.EnqueueConvert(ctx, doc, profile)
	}
	return fmt.Errorf("unknown lane %q for document %s", lane, doc.ID)
}

func (s *Intake) saveFile(documentID, format string, content []byte) (string, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage dir: %w", err)
	}
	path := filepath.Join(s.storageDir, documentID+"."+format)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to persist upload: %w", err)
	}
	return path, nil
}

// ReplaceFile overwrites a document's stored payload with fresh remote
// content and returns the path written.
func (s *Intake) ReplaceFile(documentID, format string, content []byte) (string, error) {
	return s.saveFile(documentID, format, content)
}

// RemoveFiles deletes a document's on-disk payload. Missing files are fine;
// delete is idempotent.
func (s *Intake) RemoveFiles(doc *models.Document) {
	if doc.FilePath == "" {
		return
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove stored file", "document_id", doc.ID, "error", err.Error())
	}
}
