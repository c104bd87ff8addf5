// Package library implements read-only external libraries: a
// hierarchical remote source addressed by serverUrl/basePath that
// contributes volumes to the catalog but never accepts writes. Backed by
// HDFS via github.com/colinmarc/hdfs/v2, whose path-addressed,
// no-duplicate-siblings namespace fits the read-only source contract.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package library

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/colinmarc/hdfs/v2"
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/provider"
	"github.com/pkg/errors"
)

// ErrReadOnly is returned by every mutating provider operation.
var ErrReadOnly = errors.New("library: source is read-only")

// Client is the slice of the HDFS client Source needs, so tests can
// substitute an in-memory tree.
type Client interface {
	ReadDir(dirname string) ([]os.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
}

// hdfsClient adapts *hdfs.Client to Client (Open's concrete return type
// otherwise blocks the interface match).
type hdfsClient struct{ *hdfs.Client }

func (c hdfsClient) Open(name string) (io.ReadCloser, error) { return c.Client.Open(name) }

// Dial connects to cfg.ServerURL as cfg.Username and returns a Source
// rooted at cfg.BasePath.
func Dial(cfg *model.LibraryConfig) (*Source, error) {
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{cfg.ServerURL},
		User:      cfg.Username,
	})
	if err != nil {
		return nil, coserrors.Wrap(coserrors.KindAuth, err, "library: dial "+cfg.ServerURL)
	}
	return NewSource(cfg, hdfsClient{client}), nil
}

// Source is one configured library. It implements provider.Provider so
// the catalog reconciler and download queue treat it like any other
// remote, with every write rejected.
type Source struct {
	cfg    *model.LibraryConfig
	client Client
}

var _ provider.Provider = (*Source)(nil)

func NewSource(cfg *model.LibraryConfig, client Client) *Source {
	return &Source{cfg: cfg, client: client}
}

func (Source) Kind() provider.Kind { return provider.KindWebDAV }

// Name is the concurrency-bucket key; prefixing keeps a library from
// sharing a bucket with a real provider of the same name.
func (s *Source) Name() string { return "library:" + s.cfg.ID }

// LibraryID is stamped onto every volume fabricated from this source;
// a non-empty library id marks the volume read-only externally owned.
func (s *Source) LibraryID() string { return s.cfg.ID }

func (s *Source) IsAuthenticated() bool { return s.client != nil }

func (s *Source) GetStatus(ctx context.Context) (provider.Status, error) {
	if s.client == nil {
		return provider.Status{NeedsAttention: true, StatusMessage: "not connected"}, nil
	}
	return provider.Status{Authenticated: true, HasStoredCredentials: true}, nil
}

func (s *Source) Login(ctx context.Context) error  { return nil }
func (s *Source) Logout(ctx context.Context) error { s.client = nil; return nil }

// ListCloudVolumes walks basePath one level deep: each directory is a
// series, each file inside is "Series/Volume.ext". Files directly at
// basePath are top-level metadata and keep a bare filename path.
func (s *Source) ListCloudVolumes(ctx context.Context) ([]model.RemoteFileMetadata, error) {
	entries, err := s.client.ReadDir(s.cfg.BasePath)
	if err != nil {
		return nil, coserrors.Wrap(coserrors.KindTransient, err, "library: list "+s.cfg.BasePath)
	}
	var out []model.RemoteFileMetadata
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, s.meta(e.Name(), e))
			continue
		}
		seriesDir := path.Join(s.cfg.BasePath, e.Name())
		children, err := s.client.ReadDir(seriesDir)
		if err != nil {
			return nil, coserrors.Wrap(coserrors.KindTransient, err, "library: list "+seriesDir)
		}
		for _, c := range children {
			if c.IsDir() {
				continue // deeper nesting is not part of the layout
			}
			out = append(out, s.meta(e.Name()+"/"+c.Name(), c))
		}
	}
	return out, nil
}

func (s *Source) meta(relPath string, info os.FileInfo) model.RemoteFileMetadata {
	return model.RemoteFileMetadata{
		Provider:     s.Name(),
		FileID:       path.Join(s.cfg.BasePath, relPath),
		Path:         relPath,
		ModifiedTime: info.ModTime(),
		Size:         info.Size(),
	}
}

// DownloadFile streams the file at meta.FileID (the absolute remote path)
// into memory with throttled progress.
func (s *Source) DownloadFile(ctx context.Context, meta model.RemoteFileMetadata, onProgress func(loaded, total int64)) ([]byte, error) {
	r, err := s.client.Open(meta.FileID)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, coserrors.Wrap(coserrors.KindNotFound, err, "library: open "+meta.FileID)
		}
		return nil, coserrors.Wrap(coserrors.KindTransient, err, "library: open "+meta.FileID)
	}
	defer r.Close()

	buf := make([]byte, 0, meta.Size)
	chunk := make([]byte, 256<<10)
	lastReport := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if onProgress != nil && time.Since(lastReport) > 66*time.Millisecond {
				lastReport = time.Now()
				onProgress(int64(len(buf)), meta.Size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, coserrors.Wrap(coserrors.KindTransient, rerr, "library: read "+meta.FileID)
		}
	}
	if onProgress != nil {
		onProgress(int64(len(buf)), meta.Size)
	}
	return buf, nil
}

func (s *Source) UploadFile(ctx context.Context, p string, blob []byte, description string) (string, error) {
	return "", ErrReadOnly
}
func (s *Source) DeleteFile(ctx context.Context, meta model.RemoteFileMetadata) error {
	return ErrReadOnly
}
func (s *Source) DeleteSeriesFolder(ctx context.Context, seriesTitle string) error {
	return ErrReadOnly
}
func (s *Source) PrepareUploadTarget(ctx context.Context, seriesTitle string) (map[string]string, error) {
	return nil, ErrReadOnly
}

func (s *Source) GetStorageQuota(ctx context.Context) (provider.Quota, bool, error) {
	type statFser interface {
		StatFs() (hdfs.FsInfo, error)
	}
	sf, ok := s.client.(statFser)
	if !ok {
		return provider.Quota{}, false, nil
	}
	info, err := sf.StatFs()
	if err != nil {
		return provider.Quota{}, false, coserrors.Wrap(coserrors.KindTransient, err, "library: statfs")
	}
	return provider.Quota{
		Used:      int64(info.Used),
		Total:     int64(info.Capacity),
		Available: int64(info.Remaining),
	}, true, nil
}

// SupportsWorkerDownload is false: there is no URL to hand to a worker,
// downloads go through DownloadFile on the native client.
func (s *Source) SupportsWorkerDownload() bool { return false }

func (s *Source) UploadConcurrencyLimit() int   { return 1 }
func (s *Source) DownloadConcurrencyLimit() int { return 2 }

func (s *Source) GetWorkerUploadCredentials(ctx context.Context) (provider.WorkerCredentials, error) {
	return provider.WorkerCredentials{}, ErrReadOnly
}

// GetWorkerDownloadCredentials carries only the fileId; the pool task
// falls back to DownloadFile since SupportsWorkerDownload is false.
func (s *Source) GetWorkerDownloadCredentials(ctx context.Context, fileID string) (provider.WorkerCredentials, error) {
	return provider.WorkerCredentials{ExtraFields: map[string]string{"fileId": fileID}}, nil
}

func (s *Source) CleanupWorkerDownload(ctx context.Context, fileID string) error { return nil }

func (s *Source) GetFolderOperations() (provider.FolderOperations, bool) { return nil, false }
