// Package sync keeps remote folder bindings and local documents converging:
// full walks establish a change cursor, incremental runs consume it.
package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"doc-ingest-platform/internal/events"
	"doc-ingest-platform/internal/ingest"
	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/models"
)

// Bindings is the binding-store slice the synchronizer needs.
type Bindings interface {
	Get(ctx context.Context, id string) (*models.RemoteFolderBinding, error)
	AcquireSyncLock(ctx context.Context, id string) error
	FinishSync(ctx context.Context, id, pageToken string) error
	FailSync(ctx context.Context, id, syncError string) error
	ReleaseSync(ctx context.Context, id string) error
}

// Documents is the metadata-store slice the synchronizer needs.
type Documents interface {
	ListByRemoteFolder(ctx context.Context, folderID string) (map[string]models.Document, error)
	FindByHash(ctx context.Context, md5Hash string) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, set bson.M) error
}

// Lifecycle is the status-transition slice, satisfied by the state machine.
type Lifecycle interface {
	MarkRemoved(ctx context.Context, id string) error
	RestoreCompleted(ctx context.Context, id string) error
	ResetToPending(ctx context.Context, id string) error
}

// Ingestor admits new and changed remote files into the pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, up ingest.Upload) (*models.Document, error)
	Redispatch(ctx context.Context, doc *models.Document) error
	ReplaceFile(documentID, format string, content []byte) (string, error)
}

// Result summarizes one sync run.
type Result struct {
	BindingID string `json:"bindingId"`
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
	Linked    int    `json:"linked"`
	Removed   int    `json:"removed"`
	Restored  int    `json:"restored"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
}

// Synchronizer runs sync passes over remote folder bindings. A run is full
// when the binding has no cursor yet and incremental otherwise; either way
// the cursor advances only after the run finishes cleanly.
type Synchronizer struct {
	bindings  Bindings
	documents Documents
	remote    RemoteStore
	intake    Ingestor
	machine   Lifecycle
	bus       *events.Bus
}

func NewSynchronizer(bindings Bindings, documents Documents, remote RemoteStore, intake Ingestor, machine Lifecycle, bus *events.Bus) *Synchronizer {
	return &Synchronizer{
		bindings:  bindings,
		documents: documents,
		remote:    remote,
		intake:    intake,
		machine:   machine,
		bus:       bus,
	}
}

// Sync runs one pass for a binding. Per-file failures are counted and the
// run continues; a failure to read the remote listing aborts the run and
// keeps the old cursor.
func (s *Synchronizer) Sync(ctx context.Context, bindingID string) (*Result, error) {
	binding, err := s.bindings.Get(ctx, bindingID)
	if err != nil {
		return nil, err
	}
	if err := s.bindings.AcquireSyncLock(ctx, bindingID); err != nil {
		return nil, err
	}

	s.emit(events.SyncStart, bindingID, nil)
	started := time.Now()

	result, nextToken, err := s.run(ctx, binding)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// A cancelled run is not a sync failure; put the binding back to
			// IDLE so the next run starts clean. The run context is dead, so
			// release with a fresh one.
			release, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if relErr := s.bindings.ReleaseSync(release, bindingID); relErr != nil {
				logger.Error("failed to release cancelled sync", "binding_id", bindingID, "error", relErr.Error())
			}
			logger.Info("sync cancelled", "binding_id", bindingID)
			return nil, err
		}
		if failErr := s.bindings.FailSync(ctx, bindingID, err.Error()); failErr != nil {
			logger.Error("failed to record sync error", "binding_id", bindingID, "error", failErr.Error())
		}
		s.emit(events.SyncError, bindingID, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if err := s.bindings.FinishSync(ctx, bindingID, nextToken); err != nil {
		return nil, err
	}
	logger.Info("sync finished", "binding_id", bindingID,
		"added", result.Added, "updated", result.Updated, "linked", result.Linked,
		"removed", result.Removed, "restored", result.Restored,
		"unchanged", result.Unchanged, "failed", result.Failed,
		"duration", time.Since(started).String())
	s.emit(events.SyncComplete, bindingID, result)
	return result, nil
}

func (s *Synchronizer) run(ctx context.Context, binding *models.RemoteFolderBinding) (*Result, string, error) {
	result := &Result{BindingID: binding.ID}

	known, err := s.documents.ListByRemoteFolder(ctx, binding.RemoteFolderID)
	if err != nil {
		return nil, "", err
	}

	var files []RemoteFile
	var removedIDs []string
	var nextToken string

	if binding.PageToken == "" {
		files, nextToken, err = s.remote.ListFolder(ctx, binding.RemoteFolderID, binding.Recursive)
		if err != nil {
			return nil, "", err
		}
		// A full walk is authoritative: anything known locally but absent
		// remotely is a removal.
		present := make(map[string]bool, len(files))
		for _, f := range files {
			present[f.ID] = true
		}
		for remoteID := range known {
			if !present[remoteID] {
				removedIDs = append(removedIDs, remoteID)
			}
		}
	} else {
		set, err := s.remote.Changes(ctx, binding.RemoteFolderID, binding.PageToken, binding.Recursive)
		if err != nil {
			return nil, "", err
		}
		files = set.Files
		removedIDs = set.RemovedIDs
		nextToken = set.NextPageToken
	}

	for i, file := range files {
		if err := s.applyFile(ctx, binding, known, file, result); err != nil {
			logger.Warn("sync skipped file", "binding_id", binding.ID,
				"remote_file_id", file.ID, "name", file.Name, "error", err.Error())
			result.Failed++
		}
		if (i+1)%25 == 0 {
			s.emit(events.SyncProgress, binding.ID, map[string]interface{}{
				"processed": i + 1, "total": len(files),
			})
		}
	}

	for _, remoteID := range removedIDs {
		doc, ok := known[remoteID]
		if !ok {
			continue
		}
		if err := s.machine.MarkRemoved(ctx, doc.ID); err != nil {
			logger.Warn("failed to soft-delete removed file",
				"document_id", doc.ID, "error", err.Error())
			result.Failed++
			continue
		}
		result.Removed++
	}

	return result, nextToken, nil
}

// applyFile converges one remote file with local state.
func (s *Synchronizer) applyFile(ctx context.Context, binding *models.RemoteFolderBinding, known map[string]models.Document, file RemoteFile, result *Result) error {
	existing, ok := known[file.ID]
	if !ok {
		return s.admitFile(ctx, binding, file, result)
	}

	removed := existing.Status == models.StatusFailed && existing.FailReason == models.FailRemovedFromRemote
	contentChanged := file.MD5Checksum != existing.MD5Hash

	// Some remote files carry no checksum; download and hash the bytes
	// instead of assuming they are unchanged.
	var content []byte
	if file.MD5Checksum == "" {
		var err error
		content, err = s.remote.Download(ctx, file.ID)
		if err != nil {
			return err
		}
		contentChanged = contentHash(content) != existing.MD5Hash
	}

	if removed && !contentChanged {
		// The remote file came back unchanged; undo the soft delete.
		if err := s.machine.RestoreCompleted(ctx, existing.ID); err != nil {
			return err
		}
		result.Restored++
		return nil
	}

	if !contentChanged {
		result.Unchanged++
		return nil
	}
	return s.reingestChanged(ctx, existing, file, content, result)
}

func contentHash(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// admitFile handles a remote file with no local record: link it to an
// existing document with the same content, or ingest it as new.
func (s *Synchronizer) admitFile(ctx context.Context, binding *models.RemoteFolderBinding, file RemoteFile, result *Result) error {
	if file.MD5Checksum != "" {
		match, err := s.documents.FindByHash(ctx, file.MD5Checksum)
		if err != nil {
			return err
		}
		if match != nil {
			return s.linkDocument(ctx, match.ID, binding, file, result)
		}
	}

	content, err := s.remote.Download(ctx, file.ID)
	if err != nil {
		return err
	}

	modified := file.ModifiedTime
	_, err = s.intake.Ingest(ctx, ingest.Upload{
		Filename:         file.Name,
		MimeType:         file.MimeType,
		Content:          content,
		RemoteFileID:     file.ID,
		RemoteFolderID:   binding.RemoteFolderID,
		RemoteModified:   &modified,
		BindingProfileID: binding.ProfileID,
	})
	if err != nil {
		var dup *ingest.DuplicateError
		if errors.As(err, &dup) {
			// Checksum was missing or stale; the content still matched an
			// existing document, so link instead of duplicating.
			return s.linkDocument(ctx, dup.ExistingID, binding, file, result)
		}
		return err
	}
	result.Added++
	return nil
}

// linkDocument attaches remote identity to an already-ingested document
// without reprocessing it.
func (s *Synchronizer) linkDocument(ctx context.Context, documentID string, binding *models.RemoteFolderBinding, file RemoteFile, result *Result) error {
	err := s.documents.Update(ctx, documentID, bson.M{
		"source_type":          models.SourceRemote,
		"connection_state":     models.ConnectionLinked,
		"remote_file_id":       file.ID,
		"remote_folder_id":     binding.RemoteFolderID,
		"remote_modified_time": file.ModifiedTime,
	})
	if err != nil {
		return err
	}
	logger.Info("linked remote file to existing document",
		"document_id", documentID, "remote_file_id", file.ID)
	result.Linked++
	return nil
}

// reingestChanged rewrites a changed remote file's payload and sends the
// document back through its lane. content may already be downloaded by the
// caller; nil means fetch it here.
func (s *Synchronizer) reingestChanged(ctx context.Context, existing models.Document, file RemoteFile, content []byte, result *Result) error {
	if content == nil {
		var err error
		content, err = s.remote.Download(ctx, file.ID)
		if err != nil {
			return err
		}
	}
	path, err := s.intake.ReplaceFile(existing.ID, existing.Format, content)
	if err != nil {
		return err
	}
	hash := file.MD5Checksum
	if hash == "" {
		hash = contentHash(content)
	}
	if err := s.documents.Update(ctx, existing.ID, bson.M{
		"md5_hash":             hash,
		"file_size":            int64(len(content)),
		"file_path":            path,
		"filename":             file.Name,
		"remote_modified_time": file.ModifiedTime,
	}); err != nil {
		return err
	}

	// A PROCESSING document is mid-flight; the next scheduled run picks the
	// change up once it lands in a terminal state.
	if err := s.machine.ResetToPending(ctx, existing.ID); err != nil {
		return err
	}
	doc, err := s.documents.Get(ctx, existing.ID)
	if err != nil {
		return err
	}
	if err := s.intake.Redispatch(ctx, doc); err != nil {
		return err
	}
	result.Updated++
	return nil
}

func (s *Synchronizer) emit(eventType, bindingID string, payload interface{}) {
	if s.bus == nil {
		return
	}
	body := map[string]interface{}{"binding_id": bindingID}
	if payload != nil {
		body["data"] = payload
	}
	s.bus.Emit(eventType, body)
}
