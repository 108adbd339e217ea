package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"doc-ingest-platform/internal/ingest"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
)

type fakeBindings struct {
	binding     *models.RemoteFolderBinding
	finishToken string
	finished    bool
	failedWith  string
	released    bool
}

func (f *fakeBindings) Get(ctx context.Context, id string) (*models.RemoteFolderBinding, error) {
	if f.binding == nil || f.binding.ID != id {
		return nil, store.ErrNotFound
	}
	copied := *f.binding
	return &copied, nil
}

func (f *fakeBindings) AcquireSyncLock(ctx context.Context, id string) error {
	if f.binding.SyncStatus == models.SyncSyncing {
		return store.ErrSyncInProgress
	}
	f.binding.SyncStatus = models.SyncSyncing
	return nil
}

func (f *fakeBindings) FinishSync(ctx context.Context, id, pageToken string) error {
	f.binding.SyncStatus = models.SyncIdle
	f.binding.PageToken = pageToken
	f.finishToken = pageToken
	f.finished = true
	return nil
}

func (f *fakeBindings) FailSync(ctx context.Context, id, syncError string) error {
	f.binding.SyncStatus = models.SyncErrored
	f.failedWith = syncError
	return nil
}

func (f *fakeBindings) ReleaseSync(ctx context.Context, id string) error {
	f.binding.SyncStatus = models.SyncIdle
	f.released = true
	return nil
}

type fakeDocs struct {
	docs    map[string]*models.Document // by document ID
	updates map[string]bson.M
}

func newFakeDocs(docs ...*models.Document) *fakeDocs {
	f := &fakeDocs{docs: map[string]*models.Document{}, updates: map[string]bson.M{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocs) ListByRemoteFolder(ctx context.Context, folderID string) (map[string]models.Document, error) {
	out := map[string]models.Document{}
	for _, d := range f.docs {
		if d.RemoteFolderID == folderID && d.RemoteFileID != "" {
			out[d.RemoteFileID] = *d
		}
	}
	return out, nil
}

func (f *fakeDocs) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	for _, d := range f.docs {
		if d.MD5Hash == hash {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDocs) Get(ctx context.Context, id string) (*models.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDocs) Update(ctx context.Context, id string, set bson.M) error {
	if _, ok := f.docs[id]; !ok {
		return store.ErrNotFound
	}
	f.updates[id] = set
	if hash, ok := set["md5_hash"].(string); ok {
		f.docs[id].MD5Hash = hash
	}
	return nil
}

type fakeRemote struct {
	files      []RemoteFile
	startToken string
	changes    *ChangeSet
	content    map[string][]byte
	listErr    error
	downloads  []string
}

func (f *fakeRemote) ListFolder(ctx context.Context, folderID string, recursive bool) ([]RemoteFile, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.files, f.startToken, nil
}

func (f *fakeRemote) Changes(ctx context.Context, folderID, pageToken string, recursive bool) (*ChangeSet, error) {
	return f.changes, nil
}

func (f *fakeRemote) Download(ctx context.Context, fileID string) ([]byte, error) {
	f.downloads = append(f.downloads, fileID)
	content, ok := f.content[fileID]
	if !ok {
		return nil, errors.New("no such remote file")
	}
	return content, nil
}

type fakeIngestor struct {
	ingested     []ingest.Upload
	redispatched []string
	replaced     map[string][]byte
	duplicateOf  string
}

func (f *fakeIngestor) Ingest(ctx context.Context, up ingest.Upload) (*models.Document, error) {
	if f.duplicateOf != "" {
		return nil, &ingest.DuplicateError{ExistingID: f.duplicateOf}
	}
	f.ingested = append(f.ingested, up)
	return &models.Document{ID: "new-" + up.RemoteFileID}, nil
}

func (f *fakeIngestor) Redispatch(ctx context.Context, doc *models.Document) error {
	f.redispatched = append(f.redispatched, doc.ID)
	return nil
}

func (f *fakeIngestor) ReplaceFile(documentID, format string, content []byte) (string, error) {
	if f.replaced == nil {
		f.replaced = map[string][]byte{}
	}
	f.replaced[documentID] = content
	return "/tmp/" + documentID + "." + format, nil
}

type fakeLifecycle struct {
	removed  []string
	restored []string
	reset    []string
}

func (f *fakeLifecycle) MarkRemoved(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeLifecycle) RestoreCompleted(ctx context.Context, id string) error {
	f.restored = append(f.restored, id)
	return nil
}

func (f *fakeLifecycle) ResetToPending(ctx context.Context, id string) error {
	f.reset = append(f.reset, id)
	return nil
}

func testBinding() *models.RemoteFolderBinding {
	return &models.RemoteFolderBinding{
		ID:             "binding-1",
		RemoteFolderID: "folder-1",
		SyncStatus:     models.SyncIdle,
		Enabled:        true,
	}
}

func remoteDoc(id, remoteFileID, hash, status string) *models.Document {
	return &models.Document{
		ID:             id,
		RemoteFileID:   remoteFileID,
		RemoteFolderID: "folder-1",
		MD5Hash:        hash,
		Status:         status,
		SourceType:     models.SourceRemote,
		Format:         models.FormatTXT,
	}
}

func TestSyncFullWalkIngestsNewFiles(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	remote := &fakeRemote{
		files: []RemoteFile{
			{ID: "rf-1", Name: "a.txt", MimeType: "text/plain", MD5Checksum: "hash-a", ModifiedTime: time.Now()},
			{ID: "rf-2", Name: "b.txt", MimeType: "text/plain", MD5Checksum: "hash-b", ModifiedTime: time.Now()},
		},
		startToken: "token-7",
		content:    map[string][]byte{"rf-1": []byte("aaa"), "rf-2": []byte("bbb")},
	}
	ingestor := &fakeIngestor{}
	s := NewSynchronizer(bindings, newFakeDocs(), remote, ingestor, &fakeLifecycle{}, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Added != 2 || result.Failed != 0 {
		t.Fatalf("result: %+v", result)
	}
	if len(ingestor.ingested) != 2 {
		t.Fatalf("ingested %d files, want 2", len(ingestor.ingested))
	}
	up := ingestor.ingested[0]
	if up.RemoteFileID != "rf-1" || up.RemoteFolderID != "folder-1" {
		t.Fatalf("remote provenance missing: %+v", up)
	}
	if !bindings.finished || bindings.finishToken != "token-7" {
		t.Fatalf("cursor not advanced: finished=%v token=%q", bindings.finished, bindings.finishToken)
	}
}

func TestSyncLinksExistingContentWithoutReprocessing(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	existing := &models.Document{
		ID: "doc-1", MD5Hash: "hash-a", Status: models.StatusCompleted,
		SourceType: models.SourceManual, Format: models.FormatTXT,
	}
	docs := newFakeDocs(existing)
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain", MD5Checksum: "hash-a"}},
		startToken: "t",
	}
	ingestor := &fakeIngestor{}
	s := NewSynchronizer(bindings, docs, remote, ingestor, &fakeLifecycle{}, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Linked != 1 || result.Added != 0 || result.Updated != 0 {
		t.Fatalf("result: %+v", result)
	}
	if len(remote.downloads) != 0 {
		t.Fatal("linked file should not be downloaded")
	}
	set := docs.updates["doc-1"]
	if set == nil || set["remote_file_id"] != "rf-1" || set["connection_state"] != models.ConnectionLinked {
		t.Fatalf("link update: %+v", set)
	}
}

func TestSyncSoftDeletesMissingRemoteFiles(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	docs := newFakeDocs(remoteDoc("doc-1", "rf-gone", "hash-x", models.StatusCompleted))
	remote := &fakeRemote{startToken: "t"}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, &fakeIngestor{}, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("result: %+v", result)
	}
	if len(lifecycle.removed) != 1 || lifecycle.removed[0] != "doc-1" {
		t.Fatalf("MarkRemoved calls: %v", lifecycle.removed)
	}
}

func TestSyncReingestsChangedContent(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	docs := newFakeDocs(remoteDoc("doc-1", "rf-1", "old-hash", models.StatusCompleted))
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain", MD5Checksum: "new-hash"}},
		startToken: "t",
		content:    map[string][]byte{"rf-1": []byte("fresh content")},
	}
	ingestor := &fakeIngestor{}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, ingestor, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("result: %+v", result)
	}
	if string(ingestor.replaced["doc-1"]) != "fresh content" {
		t.Fatal("payload not rewritten")
	}
	if len(lifecycle.reset) != 1 || lifecycle.reset[0] != "doc-1" {
		t.Fatalf("ResetToPending calls: %v", lifecycle.reset)
	}
	if len(ingestor.redispatched) != 1 || ingestor.redispatched[0] != "doc-1" {
		t.Fatalf("redispatch calls: %v", ingestor.redispatched)
	}
	if docs.updates["doc-1"]["md5_hash"] != "new-hash" {
		t.Fatalf("hash update: %+v", docs.updates["doc-1"])
	}
}

func TestSyncRestoresReappearedFile(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	doc := remoteDoc("doc-1", "rf-1", "hash-a", models.StatusFailed)
	doc.FailReason = models.FailRemovedFromRemote
	docs := newFakeDocs(doc)
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain", MD5Checksum: "hash-a"}},
		startToken: "t",
	}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, &fakeIngestor{}, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Restored != 1 {
		t.Fatalf("result: %+v", result)
	}
	if len(lifecycle.restored) != 1 || lifecycle.restored[0] != "doc-1" {
		t.Fatalf("RestoreCompleted calls: %v", lifecycle.restored)
	}
}

func TestSyncIncrementalConsumesChangeFeed(t *testing.T) {
	binding := testBinding()
	binding.PageToken = "cursor-1"
	bindings := &fakeBindings{binding: binding}
	docs := newFakeDocs(remoteDoc("doc-1", "rf-1", "hash-a", models.StatusCompleted))
	remote := &fakeRemote{
		changes: &ChangeSet{
			Files:         []RemoteFile{{ID: "rf-2", Name: "new.txt", MimeType: "text/plain", MD5Checksum: "hash-b"}},
			RemovedIDs:    []string{"rf-1"},
			NextPageToken: "cursor-2",
		},
		content: map[string][]byte{"rf-2": []byte("incremental")},
	}
	ingestor := &fakeIngestor{}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, ingestor, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Added != 1 || result.Removed != 1 {
		t.Fatalf("result: %+v", result)
	}
	if bindings.finishToken != "cursor-2" {
		t.Fatalf("cursor: got %q, want cursor-2", bindings.finishToken)
	}
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	binding := testBinding()
	binding.SyncStatus = models.SyncSyncing
	bindings := &fakeBindings{binding: binding}
	s := NewSynchronizer(bindings, newFakeDocs(), &fakeRemote{}, &fakeIngestor{}, &fakeLifecycle{}, nil)

	if _, err := s.Sync(context.Background(), "binding-1"); !errors.Is(err, store.ErrSyncInProgress) {
		t.Fatalf("got %v, want ErrSyncInProgress", err)
	}
}

func TestSyncListingFailureKeepsCursor(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	remote := &fakeRemote{listErr: errors.New("remote unavailable")}
	s := NewSynchronizer(bindings, newFakeDocs(), remote, &fakeIngestor{}, &fakeLifecycle{}, nil)

	if _, err := s.Sync(context.Background(), "binding-1"); err == nil {
		t.Fatal("expected listing error")
	}
	if bindings.finished {
		t.Fatal("cursor advanced on failed run")
	}
	if bindings.failedWith == "" {
		t.Fatal("sync error not recorded")
	}
	if bindings.binding.SyncStatus != models.SyncErrored {
		t.Fatalf("status: got %s, want ERROR", bindings.binding.SyncStatus)
	}
}

func TestSyncReingestsWhenChecksumMissing(t *testing.T) {
	// A remote file without a checksum cannot be assumed unchanged; the run
	// downloads it and compares the bytes.
	oldSum := md5.Sum([]byte("old content"))
	bindings := &fakeBindings{binding: testBinding()}
	docs := newFakeDocs(remoteDoc("doc-1", "rf-1", hex.EncodeToString(oldSum[:]), models.StatusCompleted))
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain"}},
		startToken: "t",
		content:    map[string][]byte{"rf-1": []byte("new content")},
	}
	ingestor := &fakeIngestor{}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, ingestor, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Updated != 1 || result.Unchanged != 0 {
		t.Fatalf("result: %+v", result)
	}
	if string(ingestor.replaced["doc-1"]) != "new content" {
		t.Fatal("payload not rewritten")
	}
	newSum := md5.Sum([]byte("new content"))
	if docs.updates["doc-1"]["md5_hash"] != hex.EncodeToString(newSum[:]) {
		t.Fatalf("hash update: %+v", docs.updates["doc-1"])
	}
	if len(lifecycle.reset) != 1 {
		t.Fatalf("ResetToPending calls: %v", lifecycle.reset)
	}
}

func TestSyncChecksumMissingIdenticalBytesUnchanged(t *testing.T) {
	sum := md5.Sum([]byte("same bytes"))
	bindings := &fakeBindings{binding: testBinding()}
	docs := newFakeDocs(remoteDoc("doc-1", "rf-1", hex.EncodeToString(sum[:]), models.StatusCompleted))
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain"}},
		startToken: "t",
		content:    map[string][]byte{"rf-1": []byte("same bytes")},
	}
	lifecycle := &fakeLifecycle{}
	s := NewSynchronizer(bindings, docs, remote, &fakeIngestor{}, lifecycle, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Unchanged != 1 || result.Updated != 0 {
		t.Fatalf("result: %+v", result)
	}
	if len(lifecycle.reset) != 0 {
		t.Fatalf("identical bytes should not reprocess: %v", lifecycle.reset)
	}
}

func TestSyncCancellationReturnsBindingToIdle(t *testing.T) {
	bindings := &fakeBindings{binding: testBinding()}
	remote := &fakeRemote{listErr: context.Canceled}
	s := NewSynchronizer(bindings, newFakeDocs(), remote, &fakeIngestor{}, &fakeLifecycle{}, nil)

	if _, err := s.Sync(context.Background(), "binding-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if !bindings.released {
		t.Fatal("sync lock not released")
	}
	if bindings.binding.SyncStatus != models.SyncIdle {
		t.Fatalf("status: got %s, want IDLE", bindings.binding.SyncStatus)
	}
	if bindings.failedWith != "" {
		t.Fatalf("cancellation recorded as error: %q", bindings.failedWith)
	}
	if bindings.finished {
		t.Fatal("cursor advanced on cancelled run")
	}
}

func TestSyncLinkViaIngestDuplicate(t *testing.T) {
	// Checksum absent remotely, so the file downloads; the intake dedup
	// still matches and the sync links instead of duplicating.
	bindings := &fakeBindings{binding: testBinding()}
	docs := newFakeDocs(&models.Document{ID: "doc-9", MD5Hash: "h", Status: models.StatusCompleted, Format: models.FormatTXT})
	remote := &fakeRemote{
		files:      []RemoteFile{{ID: "rf-1", Name: "a.txt", MimeType: "text/plain"}},
		startToken: "t",
		content:    map[string][]byte{"rf-1": []byte("same bytes")},
	}
	ingestor := &fakeIngestor{duplicateOf: "doc-9"}
	s := NewSynchronizer(bindings, docs, remote, ingestor, &fakeLifecycle{}, nil)

	result, err := s.Sync(context.Background(), "binding-1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Linked != 1 || result.Added != 0 {
		t.Fatalf("result: %+v", result)
	}
	if docs.updates["doc-9"]["remote_file_id"] != "rf-1" {
		t.Fatalf("link update: %+v", docs.updates["doc-9"])
	}
}
