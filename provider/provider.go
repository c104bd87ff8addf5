// Package provider defines the uniform contract over
// heterogeneous remote object stores, plus the shared resumable-download
// state machine used by providers whose native SDK doesn't already give
// one for free.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package provider

import (
	"context"
	"time"

	"github.com/mokuroreader/corestore/model"
)

// Kind tags the three concrete provider variants
// ("Dynamic dispatch over providers: model as an enumerated tag plus a
// capability-vector record").
type Kind string

const (
	KindCapabilityMap Kind = "capability-map" // Google-Drive-like
	KindWebDAV        Kind = "webdav"         // path-addressed, hierarchical
	KindKeyShare      Kind = "key-share"       // MEGA-like, share-link downloads
)

// Status is the result of getStatus().
type Status struct {
	Authenticated        bool
	HasStoredCredentials bool
	NeedsAttention        bool
	StatusMessage         string
}

// Quota is the optional result of getStorageQuota().
type Quota struct {
	Used      int64
	Total     int64 // 0 means unknown
	Available int64 // 0 means unknown
}

// WorkerCredentials is the minimal bundle a provider hands to an
// off-thread worker so it can perform a download or upload itself.
type WorkerCredentials struct {
	URL         string
	Headers     map[string]string
	Method      string
	ExpiresAt   time.Time
	ExtraFields map[string]string // e.g. folder id merged in by prepareUploadTarget
}

// FolderOperations exposes the primitives the folder deduplicator
// needs; only capability-map providers implement this meaningfully.
type FolderOperations interface {
	ListFolders(ctx context.Context) ([]Folder, error)
	ListChildren(ctx context.Context, folderID string) ([]Child, error)
	MoveChild(ctx context.Context, childID, newParentID string) error
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFolder(ctx context.Context, folderID string) error
}

// Folder is one remote folder row as seen by the deduplicator.
type Folder struct {
	ID        string
	Name      string
	ParentID  string
	CreatedAt time.Time
}

// Child is one entry inside a folder, file or subfolder.
type Child struct {
	ID       string
	Name     string
	IsFolder bool
}

// Provider is the full remote-store vtable.
type Provider interface {
	Kind() Kind
	Name() string // the concurrency-bucket provider key, e.g. "google-drive"

	IsAuthenticated() bool
	GetStatus(ctx context.Context) (Status, error)
	Login(ctx context.Context) error
	Logout(ctx context.Context) error

	ListCloudVolumes(ctx context.Context) ([]model.RemoteFileMetadata, error)
	UploadFile(ctx context.Context, path string, blob []byte, description string) (fileID string, err error)
	DownloadFile(ctx context.Context, meta model.RemoteFileMetadata, onProgress func(loaded, total int64)) ([]byte, error)
	DeleteFile(ctx context.Context, meta model.RemoteFileMetadata) error
	DeleteSeriesFolder(ctx context.Context, seriesTitle string) error

	GetStorageQuota(ctx context.Context) (Quota, bool, error)

	SupportsWorkerDownload() bool
	UploadConcurrencyLimit() int
	DownloadConcurrencyLimit() int

	GetWorkerUploadCredentials(ctx context.Context) (WorkerCredentials, error)
	GetWorkerDownloadCredentials(ctx context.Context, fileID string) (WorkerCredentials, error)
	CleanupWorkerDownload(ctx context.Context, fileID string) error

	// PrepareUploadTarget ensures the series folder/path exists; callers
	// must serialise this per (provider, seriesTitle) — see queue/backup.
	PrepareUploadTarget(ctx context.Context, seriesTitle string) (extra map[string]string, err error)

	GetFolderOperations() (FolderOperations, bool)
}
