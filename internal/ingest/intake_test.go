package ingest

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"doc-ingest-platform/models"
)

type memoryDocuments struct {
	mu     sync.Mutex
	byID   map[string]*models.Document
	byHash map[string]*models.Document
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{
		byID:   map[string]*models.Document{},
		byHash: map[string]*models.Document{},
	}
}

func (m *memoryDocuments) Insert(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *doc
	m.byID[doc.ID] = &copied
	m.byHash[doc.MD5Hash] = &copied
	return nil
}

func (m *memoryDocuments) Get(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *doc
	return &copied, nil
}

func (m *memoryDocuments) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

type fixedProfiles struct {
	profile                 models.ProcessingProfile
	gotExplicit, gotBinding string
}

func (f *fixedProfiles) Resolve(ctx context.Context, explicitID, bindingProfileID string) (*models.ProcessingProfile, error) {
	f.gotExplicit = explicitID
	f.gotBinding = bindingProfileID
	copied := f.profile
	return &copied, nil
}

type recordingFast struct {
	mu        sync.Mutex
	processed []string
	done      chan struct{}
}

func (r *recordingFast) Process(ctx context.Context, documentID string, profile models.ProcessingProfile) error {
	r.mu.Lock()
	r.processed = append(r.processed, documentID)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

type recordingHeavy struct {
	enqueued []string
	err      error
}

func (r *recordingHeavy) Enqueued() []string { return r.enqueued }

func (r *recordingHeavy) EnqueueConvert(ctx context.Context, doc *models.Document, profile models.ProcessingProfile) error {
	if r.err != nil {
		return r.err
	}
	r.enqueued = append(r.enqueued, doc.ID)
	return nil
}

func newIntakeFixture(t *testing.T) (*Intake, *memoryDocuments, *recordingFast, *recordingHeavy) {
	t.Helper()
	docs := newMemoryDocuments()
	fast := &recordingFast{done: make(chan struct{})}
	heavy := &recordingHeavy{}
	profiles := &fixedProfiles{profile: models.DefaultProfile("test-embed", 4, 50)}
	intake := NewIntake(docs, profiles, fast, heavy, nil, t.TempDir(), 10<<20)
	return intake, docs, fast, heavy
}

func TestIngestFastLaneDocument(t *testing.T) {
	intake, docs, fast, heavy := newIntakeFixture(t)

	doc, err := intake.Ingest(context.Background(), Upload{
		Filename: "notes.md",
		MimeType: "text/markdown",
		Content:  []byte("# Title\n\nSome body text for the pipeline."),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.Status != models.StatusPending {
		t.Fatalf("status: got %s, want PENDING", doc.Status)
	}
	if doc.Format != models.FormatMD || doc.SourceType != models.SourceManual {
		t.Fatalf("routing: format=%s source=%s", doc.Format, doc.SourceType)
	}
	if doc.MD5Hash == "" {
		t.Fatal("hash not computed")
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	stored, err := docs.Get(context.Background(), doc.ID)
	if err != nil || stored.Filename != "notes.md" {
		t.Fatalf("document not persisted: %v", err)
	}

	select {
	case <-fast.done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast lane never dispatched")
	}
	if len(heavy.Enqueued()) != 0 {
		t.Fatal("fast format reached the heavy queue")
	}
}

func TestIngestHeavyLaneDocument(t *testing.T) {
	intake, _, fast, heavy := newIntakeFixture(t)
	fast.done = nil

	doc, err := intake.Ingest(context.Background(), Upload{
		Filename: "report.pdf",
		MimeType: "application/pdf",
		Content:  []byte("%PDF-1.4 fake body"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(heavy.Enqueued()) != 1 || heavy.Enqueued()[0] != doc.ID {
		t.Fatalf("heavy enqueue: %v", heavy.Enqueued())
	}
}

func TestIngestDuplicateContentRejected(t *testing.T) {
	intake, _, fast, _ := newIntakeFixture(t)

	content := []byte("exact same bytes both times, long enough to matter")
	first, err := intake.Ingest(context.Background(), Upload{
		Filename: "a.txt", MimeType: "text/plain", Content: content,
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	<-fast.done

	_, err = intake.Ingest(context.Background(), Upload{
		Filename: "b.txt", MimeType: "text/plain", Content: content,
	})
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("got %v, want DuplicateError", err)
	}
	if dup.ExistingID != first.ID {
		t.Fatalf("existing ID: got %s, want %s", dup.ExistingID, first.ID)
	}
}

func TestIngestUnsupportedFormatRejected(t *testing.T) {
	intake, _, _, _ := newIntakeFixture(t)

	_, err := intake.Ingest(context.Background(), Upload{
		Filename: "binary.exe",
		MimeType: "application/octet-stream",
		Content:  []byte{0x4d, 0x5a},
	})
	if err == nil {
		t.Fatal("expected routing rejection")
	}
}

func TestIngestOversizeRejected(t *testing.T) {
	docs := newMemoryDocuments()
	profiles := &fixedProfiles{profile: models.DefaultProfile("test-embed", 4, 50)}
	intake := NewIntake(docs, profiles, &recordingFast{}, &recordingHeavy{}, nil, t.TempDir(), 8)

	_, err := intake.Ingest(context.Background(), Upload{
		Filename: "big.txt", MimeType: "text/plain",
		Content: []byte("more than eight bytes"),
	})
	if err == nil {
		t.Fatal("expected size rejection")
	}
}

func TestIngestRemoteFileLinksProvenance(t *testing.T) {
	intake, _, fast, _ := newIntakeFixture(t)

	modified := time.Now().UTC()
	doc, err := intake.Ingest(context.Background(), Upload{
		Filename:       "synced.txt",
		MimeType:       "text/plain",
		Content:        []byte("content pulled from the remote folder"),
		RemoteFileID:   "remote-123",
		RemoteFolderID: "folder-9",
		RemoteModified: &modified,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	<-fast.done

	if doc.SourceType != models.SourceRemote {
		t.Fatalf("source: got %s, want REMOTE", doc.SourceType)
	}
	if doc.ConnectionState != models.ConnectionLinked {
		t.Fatalf("connection: got %s, want LINKED", doc.ConnectionState)
	}
	if doc.RemoteFileID != "remote-123" || doc.RemoteFolderID != "folder-9" {
		t.Fatalf("remote identity not carried: %+v", doc)
	}
}
