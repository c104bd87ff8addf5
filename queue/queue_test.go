package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/mokuroreader/corestore/catalog"
	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/pool"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/shim"
	"github.com/mokuroreader/corestore/store"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeProvider is an in-memory Provider whose downloads serve pre-seeded
// blobs through the native (non-worker) path and whose uploads are
// recorded for assertions.
type fakeProvider struct {
	name string

	mu            sync.Mutex
	blobs         map[string][]byte // fileID -> archive bytes
	listing       []model.RemoteFileMetadata
	listCalls     int
	downloadOrder []string
	uploads       map[string][]byte // path -> blob
	cleanups      []string
	uploadLimit   int
	prepared      map[string]int    // seriesTitle -> PrepareUploadTarget calls
	descriptions  map[string]string // fileID -> last written description
}

var _ provider.Provider = (*fakeProvider)(nil)

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:         name,
		blobs:        map[string][]byte{},
		uploads:      map[string][]byte{},
		prepared:     map[string]int{},
		descriptions: map[string]string{},
		uploadLimit:  2,
	}
}

// SetFolderDescription satisfies the optional description-setter the
// downloader probes for when backwriting a series tag.
func (p *fakeProvider) SetFolderDescription(ctx context.Context, folderID, description string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descriptions[folderID] = description
	return nil
}

func (p *fakeProvider) Kind() provider.Kind { return provider.KindWebDAV }
func (p *fakeProvider) Name() string        { return p.name }

func (p *fakeProvider) IsAuthenticated() bool { return true }
func (p *fakeProvider) GetStatus(ctx context.Context) (provider.Status, error) {
	return provider.Status{Authenticated: true}, nil
}
func (p *fakeProvider) Login(ctx context.Context) error  { return nil }
func (p *fakeProvider) Logout(ctx context.Context) error { return nil }

func (p *fakeProvider) ListCloudVolumes(ctx context.Context) ([]model.RemoteFileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	return append([]model.RemoteFileMetadata(nil), p.listing...), nil
}

func (p *fakeProvider) UploadFile(ctx context.Context, path string, blob []byte, description string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads[path] = blob
	return "fid-" + path, nil
}

func (p *fakeProvider) DownloadFile(ctx context.Context, meta model.RemoteFileMetadata, onProgress func(loaded, total int64)) ([]byte, error) {
	p.mu.Lock()
	p.downloadOrder = append(p.downloadOrder, meta.FileID)
	blob, ok := p.blobs[meta.FileID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such file %s", meta.FileID)
	}
	if onProgress != nil {
		onProgress(int64(len(blob)), int64(len(blob)))
	}
	return blob, nil
}

func (p *fakeProvider) DeleteFile(ctx context.Context, meta model.RemoteFileMetadata) error { return nil }
func (p *fakeProvider) DeleteSeriesFolder(ctx context.Context, seriesTitle string) error    { return nil }

func (p *fakeProvider) GetStorageQuota(ctx context.Context) (provider.Quota, bool, error) {
	return provider.Quota{}, false, nil
}

func (p *fakeProvider) SupportsWorkerDownload() bool { return false }
func (p *fakeProvider) UploadConcurrencyLimit() int  { return p.uploadLimit }
func (p *fakeProvider) DownloadConcurrencyLimit() int { return 2 }

func (p *fakeProvider) GetWorkerUploadCredentials(ctx context.Context) (provider.WorkerCredentials, error) {
	return provider.WorkerCredentials{}, nil
}
func (p *fakeProvider) GetWorkerDownloadCredentials(ctx context.Context, fileID string) (provider.WorkerCredentials, error) {
	return provider.WorkerCredentials{}, nil
}
func (p *fakeProvider) CleanupWorkerDownload(ctx context.Context, fileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups = append(p.cleanups, fileID)
	return nil
}

func (p *fakeProvider) PrepareUploadTarget(ctx context.Context, seriesTitle string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared[seriesTitle]++
	return map[string]string{"folderId": "folder-" + seriesTitle}, nil
}

func (p *fakeProvider) GetFolderOperations() (provider.FolderOperations, bool) { return nil, false }

// --- shared helpers ---

func pageBlob(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 6))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	pool     *pool.Pool
	db       *store.DB
	fake     *fakeProvider
	caches   *catalog.Registry
	tracker  *shim.Tracker
	snackbar *shim.Snackbar
}

func newTestEnv(t *testing.T) *testEnv {
	return &testEnv{
		pool:     pool.New(pool.Config{MaxConcurrentWorkers: 4, MemoryBudget: 1 << 30}),
		db:       openTestDB(t),
		fake:     newFakeProvider("fake"),
		caches:   catalog.NewRegistry(),
		tracker:  shim.NewTracker(prometheus.NewRegistry()),
		snackbar: shim.NewSnackbar(),
	}
}

func (e *testEnv) providers() map[string]provider.Provider {
	return map[string]provider.Provider{"fake": e.fake}
}

func placeholderItem(series, volume, fileID string, size int64) *DownloadItem {
	ph := model.NewPlaceholder(
		ids.SeriesUUID(series), series,
		ids.VolumeUUID(series, volume), volume,
		"fake", fileID, series+"/"+volume+".cbz", time.Now(), size)
	return &DownloadItem{
		VolumeUUID:     ph.VolumeUUID,
		CloudFileID:    fileID,
		CloudProvider:  "fake",
		SeriesTitle:    series,
		VolumeTitle:    volume,
		VolumeMetadata: ph,
	}
}

// awaitTracker polls until every id is terminal or the deadline passes.
func awaitTracker(t *testing.T, tracker *shim.Tracker, ids []string) map[string]shim.ProgressEntry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := tracker.Snapshot()
		done := true
		for _, id := range ids {
			switch snap[id].Status {
			case shim.StatusDone, shim.StatusErrored, shim.StatusCancelled:
			default:
				done = false
			}
		}
		if done {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tracker never drained: %+v", tracker.Snapshot())
	return nil
}
