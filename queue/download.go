// Package queue implements the download queue and the backup/export
// queue: both sit on top of the shared worker pool and the provider
// abstraction, and report outcomes through the progress/snackbar shims.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package queue

import (
	"context"
	"strings"
	"sync"

	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/catalog"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/ingest"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/pool"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/shim"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
)

// DownloadStatus is a download item's lifecycle state.
type DownloadStatus string

const (
	DLQueued      DownloadStatus = "queued"
	DLDownloading DownloadStatus = "downloading"
)

// DownloadItem is one queued volume retrieval.
type DownloadItem struct {
	ID             string
	VolumeUUID     string
	CloudFileID    string
	CloudProvider  string
	SeriesTitle    string
	VolumeTitle    string
	VolumeMetadata *model.Volume
	LibraryID      string
	Status         DownloadStatus
}

// defaultDownloadEstimate is used when the remote listing has no usable
// size hint, so the pool still has a sane memory reservation to admit on.
const defaultDownloadEstimate = 64 << 20

// memoryMultiplier sizes a task at ~2.8x the expected archive bytes:
// the archive itself plus its in-memory decompressed entries plus
// canonicalization overhead.
const memoryMultiplier = 2.8

// Downloader is the download queue: strict global FIFO, one item
// in-flight at a time.
type Downloader struct {
	mu      sync.Mutex
	items   []*DownloadItem
	seen    map[string]struct{} // volumeUUID, queued or in-flight
	running bool

	pool      *pool.Pool
	db        *store.DB
	providers map[string]provider.Provider
	caches    *catalog.Registry
	tracker   *shim.Tracker
	snackbar  *shim.Snackbar
}

func NewDownloader(p *pool.Pool, db *store.DB, providers map[string]provider.Provider, caches *catalog.Registry, tracker *shim.Tracker, snackbar *shim.Snackbar) *Downloader {
	return &Downloader{
		pool:      p,
		db:        db,
		providers: providers,
		caches:    caches,
		tracker:   tracker,
		snackbar:  snackbar,
		seen:      map[string]struct{}{},
	}
}

// Enqueue admits item: only placeholder volumes
// with cloudFileId and cloudProvider qualify, and a volumeUuid already
// queued or in-flight is rejected.
func (d *Downloader) Enqueue(item *DownloadItem) error {
	if item.VolumeMetadata == nil || !item.VolumeMetadata.IsPlaceholder {
		return errors.New("queue: only placeholder volumes are downloadable")
	}
	if item.CloudFileID == "" || item.CloudProvider == "" {
		return errors.New("queue: missing cloudFileId/cloudProvider")
	}

	d.mu.Lock()
	if _, dup := d.seen[item.VolumeUUID]; dup {
		d.mu.Unlock()
		return errors.New("queue: volume already queued or downloading")
	}
	if item.ID == "" {
		item.ID, _ = shortid.Generate()
	}
	item.Status = DLQueued
	d.seen[item.VolumeUUID] = struct{}{}
	d.items = append(d.items, item)
	d.mu.Unlock()

	d.promote()
	return nil
}

// Cancel removes a not-yet-started item.
func (d *Downloader) Cancel(volumeUUID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, it := range d.items {
		if it.VolumeUUID == volumeUUID && it.Status == DLQueued {
			d.items = append(d.items[:i], d.items[i+1:]...)
			delete(d.seen, volumeUUID)
			return true
		}
	}
	return false
}

// promote starts the head of the queue if nothing is currently
// in-flight; at most one item transitions to in-flight per tick, and the
// next waits for completion.
func (d *Downloader) promote() {
	d.mu.Lock()
	if d.running || len(d.items) == 0 {
		d.mu.Unlock()
		return
	}
	item := d.items[0]
	d.items = d.items[1:]
	item.Status = DLDownloading
	d.running = true
	d.mu.Unlock()

	go d.execute(item)
}

func (d *Downloader) done(item *DownloadItem) {
	d.mu.Lock()
	delete(d.seen, item.VolumeUUID)
	d.running = false
	d.mu.Unlock()
	d.promote()
}

// execute runs one item's full pipeline: credentials, worker download,
// sidecar fetch, ingest, tag backwrite, cleanup.
func (d *Downloader) execute(item *DownloadItem) {
	ctx := context.Background()
	if d.tracker != nil {
		d.tracker.Start(item.ID, "downloading "+item.SeriesTitle+"/"+item.VolumeTitle)
	}
	defer d.done(item)

	p, ok := d.providers[item.CloudProvider]
	if !ok {
		d.fail(item, errors.New("queue: unknown provider "+item.CloudProvider))
		return
	}

	estimate := int64(defaultDownloadEstimate)
	if item.VolumeMetadata.CloudSize > 0 {
		estimate = item.VolumeMetadata.CloudSize
	}

	t := &pool.Task{
		MemoryRequirement:        int64(float64(estimate) * memoryMultiplier),
		Provider:                 item.CloudProvider,
		ProviderConcurrencyLimit: p.DownloadConcurrencyLimit(),
	}
	if p.SupportsWorkerDownload() {
		// Credentials are fetched in PrepareData, i.e. at the last moment
		// before the task starts.
		t.PrepareData = func(ctx context.Context) (interface{}, error) {
			creds, err := p.GetWorkerDownloadCredentials(ctx, item.CloudFileID)
			if err != nil {
				return nil, coserrors.Wrap(coserrors.KindTransient, err, "queue: worker download credentials")
			}
			return creds, nil
		}
		t.Run = func(ctx context.Context, data interface{}, onProgress func(loaded, total int64)) (interface{}, error) {
			return runDownloadAndDecompress(ctx, data.(provider.WorkerCredentials), onProgress)
		}
	} else {
		// Capability negotiation via the boolean field: a
		// provider that can't hand credentials to a worker downloads
		// through its own native client inside the pool task instead.
		meta := model.RemoteFileMetadata{
			Provider: item.CloudProvider,
			FileID:   item.CloudFileID,
			Path:     item.VolumeMetadata.CloudPath,
			Size:     item.VolumeMetadata.CloudSize,
		}
		t.PrepareData = func(ctx context.Context) (interface{}, error) { return nil, nil }
		t.Run = func(ctx context.Context, _ interface{}, onProgress func(loaded, total int64)) (interface{}, error) {
			blob, err := p.DownloadFile(ctx, meta, onProgress)
			if err != nil {
				return nil, errors.Wrap(err, "queue: provider download")
			}
			entries, err := ingest.Decompress(blob)
			if err != nil {
				return nil, errors.Wrap(err, "queue: decompress archive")
			}
			return entries, nil
		}
	}

	done := make(chan struct{})
	var entries []ingest.Entry
	var runErr error
	var release func()

	t.OnError = func(ev pool.Event) {
		runErr = ev.Err
		close(done)
	}
	t.OnComplete = func(ev pool.Event, releaseMemory func()) {
		entries = ev.Payload.([]ingest.Entry)
		release = releaseMemory
		close(done)
	}
	d.pool.Submit(t)
	<-done

	if runErr != nil {
		d.fail(item, runErr)
		return
	}

	if err := d.finishOnMainThread(ctx, p, item, entries); err != nil {
		if release != nil {
			release()
		}
		d.fail(item, err)
		return
	}

	cleanupCtx := context.Background()
	if err := p.CleanupWorkerDownload(cleanupCtx, item.CloudFileID); err != nil {
		corelog.Warnf("queue: best-effort cleanup failed for %s: %v", item.CloudFileID, err)
	}

	if release != nil {
		release()
	}
	if d.tracker != nil {
		d.tracker.Finish(item.ID, nil)
	}
}

// runDownloadAndDecompress is the worker-side task body: fetch via the
// resumable engine, then decompress to entries.
func runDownloadAndDecompress(ctx context.Context, creds provider.WorkerCredentials, onProgress func(loaded, total int64)) ([]ingest.Entry, error) {
	getter := provider.NewFastHTTPGetter()
	getter.Headers = creds.Headers
	sink := &provider.BufferSink{}
	if err := provider.ResumeDownload(ctx, getter, creds.URL, sink, onProgress); err != nil {
		return nil, errors.Wrap(err, "queue: download archive")
	}
	entries, err := ingest.Decompress(sink.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "queue: decompress archive")
	}
	return entries, nil
}

// finishOnMainThread completes an item on the orchestrator: sidecar fetch by exact
// path then fallback heuristic, canonicalization, write, series-tag
// backwrite, cache update.
func (d *Downloader) finishOnMainThread(ctx context.Context, p provider.Provider, item *DownloadItem, entries []ingest.Entry) error {
	cache := d.caches.Get(item.CloudProvider)
	sidecars := findSidecarEntries(cache.All(), item)
	for _, sc := range sidecars {
		blob, err := p.DownloadFile(ctx, sc, nil)
		if err != nil {
			continue // best-effort: archive alone still yields an image-only volume
		}
		entries = append(entries, ingest.Entry{Name: sc.Path, Data: blob})
	}

	basePath := item.SeriesTitle + "/" + item.VolumeTitle
	cv, _, err := ingest.Canonicalize(entries, basePath)
	if err != nil {
		return errors.Wrap(err, "queue: canonicalize")
	}
	cv.Metadata.VolumeUUID = item.VolumeUUID
	cv.Metadata.SeriesUUID = ids.SeriesUUID(item.SeriesTitle)
	cv.Metadata.CloudProvider = item.CloudProvider
	cv.Metadata.CloudFileID = item.CloudFileID
	cv.Metadata.LibraryID = item.LibraryID

	if err := ingest.WriteVolume(d.db, cv); err != nil {
		return errors.Wrap(err, "queue: write volume")
	}

	d.backwriteSeriesTag(ctx, p, item, cache)
	return nil
}

// backwriteSeriesTag: if the canonical series
// name differs from the remote folder name and the remote description has
// no existing "Series: ..." tag, write one. Only providers that expose the
// optional description setter support this at all; every other provider
// is a silent no-op.
func (d *Downloader) backwriteSeriesTag(ctx context.Context, p provider.Provider, item *DownloadItem, cache *catalog.ProviderCache) {
	setter, ok := p.(interface {
		SetFolderDescription(ctx context.Context, folderID, description string) error
	})
	if !ok {
		return
	}
	var entry model.RemoteFileMetadata
	var found bool
	for _, f := range cache.All() {
		if f.FileID == item.CloudFileID {
			entry = f
			found = true
			break
		}
	}
	if !found || strings.EqualFold(stemOf(entry.Path), item.SeriesTitle) {
		return
	}
	if _, has := ingest.SeriesTagOverride(entry.Description); has {
		return
	}
	tagged := ingest.WithSeriesTag(entry.Description, item.SeriesTitle)
	if err := setter.SetFolderDescription(ctx, item.CloudFileID, tagged); err != nil {
		corelog.Warnf("queue: series tag backwrite failed: %v", err)
		return
	}
	// Keep the snapshot in step with the remote edit until the next full
	// refresh.
	entry.Description = tagged
	cache.Upsert(entry)
}

func stemOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// findSidecarEntries locates OCR and thumbnail sidecars for item among a
// provider's cached listing by the item's "series/volume" path, then, if
// none matches, by the volume title anywhere in the normalized path. The
// fallback does not check which folder an entry sits in, and it is used
// only when exactly one entry matches.
func findSidecarEntries(cached []model.RemoteFileMetadata, item *DownloadItem) []model.RemoteFileMetadata {
	stem := strings.ToLower(item.VolumeTitle)
	var exact, fallback []model.RemoteFileMetadata
	for _, f := range cached {
		lower := strings.ToLower(f.Path)
		if !strings.HasSuffix(lower, ".mokuro") && !strings.HasSuffix(lower, ".mokuro.gz") && !strings.HasSuffix(lower, ".webp") {
			continue
		}
		base := ids.NormalizedPath(f.Path)
		if strings.Contains(base, ids.NormalizedPath(item.SeriesTitle+"/"+item.VolumeTitle)) {
			exact = append(exact, f)
			continue
		}
		if strings.Contains(strings.ToLower(base), stem) {
			fallback = append(fallback, f)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(fallback) == 1 {
		return fallback
	}
	return nil // ambiguous or absent: skip, archive alone still ingests
}

func (d *Downloader) fail(item *DownloadItem, err error) {
	corelog.Errorf("queue: download %s failed: %v", item.VolumeUUID, err)
	if d.tracker != nil {
		d.tracker.Finish(item.ID, err)
	}
	if d.snackbar != nil {
		d.snackbar.Error("Could not download " + item.SeriesTitle + " " + item.VolumeTitle + ": " + err.Error())
	}
}
