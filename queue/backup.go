package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mokuroreader/corestore/catalog"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/pool"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/shim"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/singleflight"
)

var sidecarJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ExportProvider is the pseudo-provider name used for local exports.
const ExportProvider = "export"

// BackupKind distinguishes the two products sharing one pipeline.
type BackupKind string

const (
	KindBackup BackupKind = "backup"
	KindExport BackupKind = "export"
)

// SidecarOptions controls whether OCR/thumbnail sidecars accompany the
// archive and how.
type SidecarOptions struct {
	IncludeSidecars        bool
	EmbedSidecarsInArchive bool
}

// BackupItem is one queued backup or export job.
type BackupItem struct {
	ID          string
	Kind        BackupKind
	Provider    string // real provider name, or ExportProvider
	VolumeUUID  string
	SeriesTitle string
	VolumeTitle string
	Sidecars    SidecarOptions

	// OnExportReady receives the finished archive for KindExport jobs,
	// standing in for "hand the completed blob back to the main thread as
	// a transferable" since there is no browser
	// transferable-object boundary at this layer.
	OnExportReady func(blob []byte, sidecars map[string][]byte)
}

// Backupper is the backup/export queue: partially ordered, bounded by
// each provider's uploadConcurrencyLimit (export's own bucket defaults to
// max(1, poolMax-2)).
type Backupper struct {
	pool      *pool.Pool
	db        *store.DB
	providers map[string]provider.Provider
	caches    *catalog.Registry
	tracker   *shim.Tracker
	snackbar  *shim.Snackbar

	targetPrep singleflight.Group // keyed by provider + "\x00" + seriesTitle

	mu      sync.Mutex
	pending map[string]int // provider -> count of items not yet drained
}

func NewBackupper(p *pool.Pool, db *store.DB, providers map[string]provider.Provider, caches *catalog.Registry, tracker *shim.Tracker, snackbar *shim.Snackbar) *Backupper {
	return &Backupper{
		pool:      p,
		db:        db,
		providers: providers,
		caches:    caches,
		tracker:   tracker,
		snackbar:  snackbar,
		pending:   map[string]int{},
	}
}

// Enqueue admits item and submits it to the shared pool immediately;
// ordering beyond the admission scan is left to the pool's scheduler.
func (b *Backupper) Enqueue(item *BackupItem) error {
	if item.VolumeUUID == "" || item.Provider == "" {
		return errors.New("queue: backup item needs volumeUuid and provider")
	}
	if item.ID == "" {
		item.ID, _ = shortid.Generate()
	}

	limit := b.concurrencyLimit(item.Provider)

	b.mu.Lock()
	b.pending[item.Provider]++
	b.mu.Unlock()

	if b.tracker != nil {
		b.tracker.Start(item.ID, string(item.Kind)+" "+item.SeriesTitle+"/"+item.VolumeTitle)
	}

	t := &pool.Task{
		Provider:                 item.Provider,
		ProviderConcurrencyLimit: limit,
		MemoryRequirement:        estimateArchiveSize(b.db, item.VolumeUUID),
		PrepareData:              func(ctx context.Context) (interface{}, error) { return nil, nil },
		Run: func(ctx context.Context, _ interface{}, onProgress func(loaded, total int64)) (interface{}, error) {
			return b.runItem(ctx, item, onProgress)
		},
	}
	t.OnComplete = func(ev pool.Event, release func()) {
		b.drain(item.Provider)
		release()
		if b.tracker != nil {
			b.tracker.Finish(item.ID, nil)
		}
	}
	t.OnError = func(ev pool.Event) {
		b.drain(item.Provider)
		corelog.Errorf("queue: backup %s failed: %v", item.VolumeUUID, ev.Err)
		if b.tracker != nil {
			b.tracker.Finish(item.ID, ev.Err)
		}
		if b.snackbar != nil {
			b.snackbar.Error("Could not back up " + item.SeriesTitle + " " + item.VolumeTitle + ": " + ev.Err.Error())
		}
	}
	b.pool.Submit(t)
	return nil
}

func (b *Backupper) concurrencyLimit(providerName string) int {
	if providerName == ExportProvider {
		lim := 1
		if b.pool.MaxWorkers()-2 > lim {
			lim = b.pool.MaxWorkers() - 2
		}
		return lim
	}
	if p, ok := b.providers[providerName]; ok {
		return p.UploadConcurrencyLimit()
	}
	return 1
}

// drain decrements the provider's pending count and, on reaching zero,
// schedules the deferred full cache refresh.
func (b *Backupper) drain(providerName string) {
	b.mu.Lock()
	b.pending[providerName]--
	empty := b.pending[providerName] <= 0
	if empty {
		delete(b.pending, providerName)
	}
	b.mu.Unlock()

	if empty && providerName != ExportProvider {
		go b.refreshCache(providerName)
	}
}

func (b *Backupper) refreshCache(providerName string) {
	p, ok := b.providers[providerName]
	if !ok {
		return
	}
	files, err := p.ListCloudVolumes(context.Background())
	if err != nil {
		corelog.Warnf("queue: post-drain cache refresh failed for %s: %v", providerName, err)
		return
	}
	b.caches.Get(providerName).Replace(files)
}

// runItem builds the archive, then uploads it or hands it back.
func (b *Backupper) runItem(ctx context.Context, item *BackupItem, onProgress func(loaded, total int64)) (interface{}, error) {
	archiveBlob, sidecarBlobs, err := buildArchive(b.db, item.VolumeUUID, item.Sidecars, onProgress)
	if err != nil {
		return nil, errors.Wrap(err, "queue: build archive")
	}

	if item.Kind == KindExport {
		if item.OnExportReady != nil {
			item.OnExportReady(archiveBlob, sidecarBlobs)
		}
		return nil, nil
	}

	p, ok := b.providers[item.Provider]
	if !ok {
		return nil, errors.New("queue: unknown provider " + item.Provider)
	}

	// PrepareUploadTarget's folder-creation side effect is what matters here;
	// UploadFile re-resolves the same folder by name, so the returned extra
	// fields have no further use in this pipeline.
	if _, err, _ := b.targetPrep.Do(item.Provider+"\x00"+item.SeriesTitle, func() (interface{}, error) {
		return p.PrepareUploadTarget(ctx, item.SeriesTitle)
	}); err != nil {
		return nil, errors.Wrap(err, "queue: prepare upload target")
	}

	archivePath := item.SeriesTitle + "/" + item.VolumeTitle + ".cbz"
	fileID, err := p.UploadFile(ctx, archivePath, archiveBlob, "")
	if err != nil {
		return nil, errors.Wrap(err, "queue: upload archive")
	}

	if item.Sidecars.IncludeSidecars && !item.Sidecars.EmbedSidecarsInArchive {
		for name, blob := range sidecarBlobs {
			if _, err := p.UploadFile(ctx, item.SeriesTitle+"/"+name, blob, ""); err != nil {
				corelog.Warnf("queue: sidecar upload failed for %s: %v", name, err)
			}
		}
	}

	b.caches.Get(item.Provider).Upsert(model.RemoteFileMetadata{
		Provider:     item.Provider,
		FileID:       fileID,
		Path:         archivePath,
		ModifiedTime: time.Now(),
	})
	return fileID, nil
}

// buildArchive streams each page out of storage one at a time and writes it straight
// into the zip writer; only the final compressed archive is ever held
// whole, matching the shape UploadFile already requires.
func buildArchive(db *store.DB, volumeUUID string, opts SidecarOptions, onProgress func(loaded, total int64)) ([]byte, map[string][]byte, error) {
	vol, err := db.GetVolumeByUUID(volumeUUID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "queue: lookup volume")
	}
	if vol == nil {
		return nil, nil, errors.Errorf("queue: volume %s not found", volumeUUID)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var written, total int64
	total = int64(vol.PageCount)
	err = db.ListFilePaths(volumeUUID, func(path string) bool {
		blob, gerr := db.GetFile(volumeUUID, path)
		if gerr != nil {
			err = gerr
			return false
		}
		w, cerr := zw.Create(path)
		if cerr != nil {
			err = cerr
			return false
		}
		if _, werr := w.Write(blob); werr != nil {
			err = werr
			return false
		}
		written++
		if onProgress != nil {
			onProgress(written, total)
		}
		return true
	})
	if err != nil {
		zw.Close()
		return nil, nil, errors.Wrap(err, "queue: stream page into archive")
	}

	sidecars := map[string][]byte{}
	if opts.IncludeSidecars {
		ocr, err := db.GetOCR(volumeUUID)
		if err != nil {
			zw.Close()
			return nil, nil, errors.Wrap(err, "queue: load ocr sidecar")
		}
		if ocr != nil {
			blob, merr := marshalMokuroSidecar(vol, ocr)
			if merr != nil {
				zw.Close()
				return nil, nil, errors.Wrap(merr, "queue: marshal ocr sidecar")
			}
			name := fmt.Sprintf("%s.mokuro", vol.VolumeTitle)
			if opts.EmbedSidecarsInArchive {
				w, cerr := zw.Create(name)
				if cerr != nil {
					zw.Close()
					return nil, nil, errors.Wrap(cerr, "queue: embed ocr sidecar")
				}
				if _, werr := w.Write(blob); werr != nil {
					zw.Close()
					return nil, nil, errors.Wrap(werr, "queue: embed ocr sidecar")
				}
			} else {
				sidecars[name] = blob
			}
		}
		if vol.Thumbnail != nil {
			name := fmt.Sprintf("%s.webp", vol.VolumeTitle)
			if opts.EmbedSidecarsInArchive {
				w, cerr := zw.Create(name)
				if cerr == nil {
					w.Write(vol.Thumbnail) //nolint:errcheck
				}
			} else {
				sidecars[name] = vol.Thumbnail
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, nil, errors.Wrap(err, "queue: finalize archive")
	}
	return buf.Bytes(), sidecars, nil
}

// estimateArchiveSize gives the pool a rough memory reservation without
// reading any page blobs; falls back to a flat default if the volume is
// unknown (should not happen, since items are enqueued against existing
// rows).
func estimateArchiveSize(db *store.DB, volumeUUID string) int64 {
	vol, err := db.GetVolumeByUUID(volumeUUID)
	if err != nil || vol == nil || vol.PageCount == 0 {
		return defaultDownloadEstimate
	}
	const avgPageBytes = 400 << 10
	return int64(vol.PageCount) * avgPageBytes
}

// mokuroSidecar mirrors the .mokuro wire shape (model.Page/model.Block
// already carry matching json tags, so only the envelope is needed here).
type mokuroSidecar struct {
	Version    string       `json:"version"`
	Title      string       `json:"title"`
	TitleUUID  string       `json:"title_uuid"`
	Volume     string       `json:"volume"`
	VolumeUUID string       `json:"volume_uuid"`
	Pages      []model.Page `json:"pages"`
	Chars      int          `json:"chars"`
}

func marshalMokuroSidecar(vol *model.Volume, ocr *model.VolumeOCR) ([]byte, error) {
	version := vol.MokuroVersion
	if version == "" {
		version = "1"
	}
	sc := mokuroSidecar{
		Version:    version,
		Title:      vol.SeriesTitle,
		TitleUUID:  vol.SeriesUUID,
		Volume:     vol.VolumeTitle,
		VolumeUUID: vol.VolumeUUID,
		Pages:      ocr.Pages,
		Chars:      vol.CharacterCount,
	}
	return sidecarJSON.Marshal(sc)
}
