package sync

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// RemoteFile is the provider-neutral view of one file in a synced folder.
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	MD5Checksum  string
	Size         int64
	ModifiedTime time.Time
}

// ChangeSet is one incremental sync window: files created or modified since
// the cursor, IDs removed, and the cursor for the next window.
type ChangeSet struct {
	Files         []RemoteFile
	RemovedIDs    []string
	NextPageToken string
}

// RemoteStore abstracts the remote file provider. ListFolder is the full
// walk that also returns a fresh change cursor; Changes consumes a cursor
// from a previous run.
type RemoteStore interface {
	ListFolder(ctx context.Context, folderID string, recursive bool) ([]RemoteFile, string, error)
	Changes(ctx context.Context, folderID, pageToken string, recursive bool) (*ChangeSet, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

const driveFileFields = "id, name, mimeType, md5Checksum, size, modifiedTime, parents, trashed"

// DriveStore syncs against Google Drive folders through the Drive v3 API.
type DriveStore struct {
	service *drive.Service
}

// NewDriveStore builds a Drive client from service account credentials.
func NewDriveStore(ctx context.Context, credentialsFile string) (*DriveStore, error) {
	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return &DriveStore{service: service}, nil
}

// ListFolder walks a folder and returns its files plus a start page token
// captured before the walk, so changes during the walk land in the next
// incremental window instead of being lost.
func (s *DriveStore) ListFolder(ctx context.Context, folderID string, recursive bool) ([]RemoteFile, string, error) {
	start, err := s.service.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get start page token: %w", err)
	}

	folders := []string{folderID}
	seen := map[string]bool{folderID: true}
	var files []RemoteFile

	for len(folders) > 0 {
		current := folders[0]
		folders = folders[1:]

		query := fmt.Sprintf("'%s' in parents and trashed = false", current)
		pageToken := ""
		for {
			call := s.service.Files.List().
				Q(query).
				Fields(googleapi.Field(fmt.Sprintf("nextPageToken, files(%s)", driveFileFields))).
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			page, err := call.Do()
			if err != nil {
				return nil, "", fmt.Errorf("failed to list folder %s: %w", current, err)
			}

			for _, f := range page.Files {
				if f.MimeType == "application/vnd.google-apps.folder" {
					if recursive && !seen[f.Id] {
						seen[f.Id] = true
						folders = append(folders, f.Id)
					}
					continue
				}
				files = append(files, toRemoteFile(f))
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return files, start.StartPageToken, nil
}

// Changes drains the change feed from pageToken, keeping only entries whose
// parent chain touches the synced folder.
func (s *DriveStore) Changes(ctx context.Context, folderID, pageToken string, recursive bool) (*ChangeSet, error) {
	scope, err := s.folderScope(ctx, folderID, recursive)
	if err != nil {
		return nil, err
	}

	set := &ChangeSet{NextPageToken: pageToken}
	token := pageToken
	for token != "" {
		page, err := s.service.Changes.List(token).
			Fields(googleapi.Field(fmt.Sprintf(
				"nextPageToken, newStartPageToken, changes(fileId, removed, file(%s))", driveFileFields))).
			IncludeRemoved(true).
			PageSize(1000).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list changes: %w", err)
		}

		for _, change := range page.Changes {
			if change.Removed || change.File == nil || change.File.Trashed {
				set.RemovedIDs = append(set.RemovedIDs, change.FileId)
				continue
			}
			if !inScope(change.File, scope) {
				continue
			}
			if change.File.MimeType == "application/vnd.google-apps.folder" {
				continue
			}
			set.Files = append(set.Files, toRemoteFile(change.File))
		}

		if page.NewStartPageToken != "" {
			set.NextPageToken = page.NewStartPageToken
			break
		}
		token = page.NextPageToken
	}
	return set, nil
}

// Download fetches a file's content.
func (s *DriveStore) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := s.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return data, nil
}

// folderScope collects the folder and, recursively, its subfolder IDs so
// change entries can be matched by parent.
func (s *DriveStore) folderScope(ctx context.Context, folderID string, recursive bool) (map[string]bool, error) {
	scope := map[string]bool{folderID: true}
	if !recursive {
		return scope, nil
	}

	folders := []string{folderID}
	for len(folders) > 0 {
		current := folders[0]
		folders = folders[1:]

		query := fmt.Sprintf("'%s' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false", current)
		pageToken := ""
		for {
			call := s.service.Files.List().Q(query).
				Fields("nextPageToken, files(id)").
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			page, err := call.Do()
			if err != nil {
				return nil, fmt.Errorf("failed to walk subfolders of %s: %w", current, err)
			}
			for _, f := range page.Files {
				if !scope[f.Id] {
					scope[f.Id] = true
					folders = append(folders, f.Id)
				}
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return scope, nil
}

func inScope(f *drive.File, scope map[string]bool) bool {
	for _, parent := range f.Parents {
		if scope[parent] {
			return true
		}
	}
	return false
}

func toRemoteFile(f *drive.File) RemoteFile {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return RemoteFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		MD5Checksum:  f.Md5Checksum,
		Size:         f.Size,
		ModifiedTime: modified,
	}
}
