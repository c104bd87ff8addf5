package ingest

import (
	"path"
	"sort"
	"strings"

	"github.com/mokuroreader/corestore/cmn/cos"
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
)

// CanonicalVolume is the pipeline's output: a canonical in-memory volume
// record of metadata, optional OCR, page files, and optional thumbnail.
type CanonicalVolume struct {
	Metadata      *model.Volume
	OCR           *model.VolumeOCR // nil iff image-only
	PageFiles     map[string][]byte
	ThumbnailBlob []byte
}

// NestedArchive is one nested-archive entry queued for its own, independent
// recursive ingest.
type NestedArchive struct {
	BasePath string
	Data     []byte
}

// Canonicalize turns a decompressed entry set into a CanonicalVolume plus
// any nested archives found inside, without touching storage.
func Canonicalize(entries []Entry, basePath string) (*CanonicalVolume, []NestedArchive, error) {
	stem := stemOf(basePath)
	cls := classify(entries, stem)

	var nested []NestedArchive
	for _, e := range cls.nestedArchives {
		nested = append(nested, NestedArchive{BasePath: joinArchivePath(basePath, e.Name), Data: e.Data})
	}

	if cls.mokuroSidecar != nil {
		cv, err := canonicalizeWithSidecar(cls, basePath)
		return cv, nested, err
	}
	cv, err := canonicalizeImageOnly(cls, basePath)
	return cv, nested, err
}

func canonicalizeWithSidecar(cls *classified, basePath string) (*CanonicalVolume, error) {
	mk, err := parseMokuro(cls.mokuroSidecar)
	if err != nil {
		return nil, coserrors.Wrap(coserrors.KindSchema, err, "ingest: sidecar")
	}

	seriesTitle := mk.Title
	volumeTitle := mk.Volume
	if seriesTitle == "" || volumeTitle == "" {
		seriesTitle, volumeTitle = deriveTitles(basePath)
	}
	seriesUUID, volumeUUID := ids.SeriesUUID(seriesTitle), ids.VolumeUUID(seriesTitle, volumeTitle)
	if mk.TitleUUID != "" {
		seriesUUID = mk.TitleUUID
	}
	if mk.VolumeUUID != "" {
		volumeUUID = mk.VolumeUUID
	}

	// sidecar order wins.
	order := make([]string, 0, len(mk.Pages))
	for _, p := range mk.Pages {
		order = append(order, p.ImgPath)
	}

	missing := map[string]struct{}{}
	pageFiles := make(map[string][]byte, len(order))
	ocrPages := make([]model.Page, 0, len(mk.Pages))
	charCount := 0
	pageCharCounts := make([]int, 0, len(mk.Pages))

	for _, mp := range mk.Pages {
		blob, ok := cls.pages[mp.ImgPath]
		if !ok {
			blob = missingPagePlaceholder()
			missing[mp.ImgPath] = struct{}{}
		}
		pageFiles[mp.ImgPath] = blob

		blocks := make([]model.Block, 0, len(mp.Blocks))
		pageChars := 0
		for _, b := range mp.Blocks {
			blocks = append(blocks, model.Block{Box: b.Box, Vertical: b.Vertical, FontSize: b.FontSize, Lines: b.Lines})
			for _, line := range b.Lines {
				pageChars += len([]rune(line))
			}
		}
		charCount += pageChars
		pageCharCounts = append(pageCharCounts, pageChars)
		ocrPages = append(ocrPages, model.Page{ImgPath: mp.ImgPath, ImgWidth: mp.ImgWidth, ImgHeight: mp.ImgHeight, Blocks: blocks})
	}

	// extra images not referenced by the sidecar still belong to the
	// volume.
	for p, blob := range cls.pages {
		if _, ok := pageFiles[p]; !ok {
			pageFiles[p] = blob
			order = append(order, p)
		}
	}

	thumb := cls.thumbnail
	var tw, th int
	missingPaths := sortedKeys(missing)
	if thumb == nil {
		coverPath := selectCoverPath(order, pageFiles, missing)
		if coverPath != "" {
			if data, w, h, err := buildCover(pageFiles[coverPath]); err == nil {
				thumb, tw, th = data, w, h
			}
		}
	}

	chars := mk.Chars
	if chars == 0 {
		chars = charCount
	}

	vol := &model.Volume{
		VolumeUUID:       volumeUUID,
		SeriesUUID:       seriesUUID,
		SeriesTitle:      seriesTitle,
		VolumeTitle:      volumeTitle,
		MokuroVersion:    nonEmpty(mk.Version, "1"),
		PageCount:        len(order),
		CharacterCount:   chars,
		PageCharCounts:   pageCharCounts,
		Thumbnail:        thumb,
		ThumbnailWidth:   tw,
		ThumbnailHeight:  th,
		MissingPagePaths: missingPaths,
	}
	return &CanonicalVolume{
		Metadata:      vol,
		OCR:           &model.VolumeOCR{VolumeUUID: volumeUUID, Pages: ocrPages},
		PageFiles:     pageFiles,
		ThumbnailBlob: thumb,
	}, nil
}

func canonicalizeImageOnly(cls *classified, basePath string) (*CanonicalVolume, error) {
	seriesTitle, volumeTitle := deriveTitles(basePath)
	seriesUUID, volumeUUID := ids.SeriesUUID(seriesTitle), ids.VolumeUUID(seriesTitle, volumeTitle)

	order := make([]string, 0, len(cls.pages))
	for p := range cls.pages {
		order = append(order, p)
	}
	sort.Slice(order, func(i, j int) bool { return cos.NaturalLess(order[i], order[j]) })

	thumb := cls.thumbnail
	var tw, th int
	if thumb == nil {
		coverPath := selectCoverPath(order, cls.pages, nil)
		if coverPath != "" {
			if data, w, h, err := buildCover(cls.pages[coverPath]); err == nil {
				thumb, tw, th = data, w, h
			}
		}
	}

	vol := &model.Volume{
		VolumeUUID:      volumeUUID,
		SeriesUUID:      seriesUUID,
		SeriesTitle:     seriesTitle,
		VolumeTitle:     volumeTitle,
		MokuroVersion:   "",
		PageCount:       len(order),
		CharacterCount:  0,
		Thumbnail:       thumb,
		ThumbnailWidth:  tw,
		ThumbnailHeight: th,
	}
	return &CanonicalVolume{Metadata: vol, PageFiles: cls.pages, ThumbnailBlob: thumb}, nil
}

// deriveTitles: the first path segment is the series, the archive stem
// (less extension) is the volume.
func deriveTitles(basePath string) (series, volume string) {
	clean := strings.ReplaceAll(basePath, "\\", "/")
	clean = strings.TrimPrefix(clean, "/")
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) == 2 {
		series = parts[0]
	}
	volume = stemOf(basePath)
	if series == "" {
		series = volume
	}
	return
}

func stemOf(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func joinArchivePath(basePath, entryName string) string {
	return strings.TrimSuffix(basePath, "/") + "/" + entryName
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteVolume performs the deduplicating, all-or-nothing write: upsert
// is a no-op if the
// existing row already has OCR; an image-only existing row is upgraded in
// place when the incoming record carries OCR; otherwise it's a fresh
// write. Any failure past the files-write step deletes the files it just
// wrote, leaving no orphaned blobs.
func WriteVolume(db *store.DB, cv *CanonicalVolume) error {
	return writeVolume(db, cv, nil)
}

// writeVolume is WriteVolume with an optional presence filter: a definite
// "not stored" answer skips the dedup lookup entirely.
func writeVolume(db *store.DB, cv *CanonicalVolume, known *knownVolumes) error {
	var existing *model.Volume
	if known == nil || known.mightContain(cv.Metadata.VolumeUUID) {
		var err error
		existing, err = db.GetVolumeByUUID(cv.Metadata.VolumeUUID)
		if err != nil {
			return errors.Wrap(err, "ingest: lookup existing volume")
		}
	}

	if existing != nil && !existing.IsImageOnly() {
		// already has OCR => no-op.
		corelog.Infof("ingest: %s already present with OCR, skipping", cv.Metadata.VolumeUUID)
		return nil
	}

	if existing != nil && existing.IsImageOnly() && cv.OCR != nil {
		return upgradeInPlace(db, existing, cv)
	}

	if err := db.WriteFiles(cv.Metadata.VolumeUUID, cv.PageFiles); err != nil {
		return errors.Wrap(err, "ingest: write files")
	}
	if cv.OCR != nil {
		if err := db.UpsertOCR(cv.Metadata.VolumeUUID, cv.OCR.Pages); err != nil {
			db.DeleteVolumeCascade(cv.Metadata.VolumeUUID) //nolint:errcheck // best-effort rollback
			return errors.Wrap(err, "ingest: write ocr, rolled back files")
		}
	}
	if err := db.UpsertVolume(cv.Metadata); err != nil {
		db.DeleteVolumeCascade(cv.Metadata.VolumeUUID) //nolint:errcheck // best-effort rollback
		return errors.Wrap(err, "ingest: write metadata, rolled back")
	}
	if known != nil {
		known.add(cv.Metadata.VolumeUUID)
	}
	return nil
}

// upgradeInPlace is the OCR-upgrade branch:
// replace mokuro_version, write OCR, keep existing files and reading stats.
func upgradeInPlace(db *store.DB, existing *model.Volume, cv *CanonicalVolume) error {
	if err := db.UpsertOCR(existing.VolumeUUID, cv.OCR.Pages); err != nil {
		return errors.Wrap(err, "ingest: upgrade ocr")
	}
	upgraded := existing.Clone()
	upgraded.MokuroVersion = cv.Metadata.MokuroVersion
	upgraded.CharacterCount = cv.Metadata.CharacterCount
	upgraded.PageCharCounts = cv.Metadata.PageCharCounts
	if cv.Metadata.PageCount > upgraded.PageCount {
		upgraded.PageCount = cv.Metadata.PageCount
	}
	if upgraded.Thumbnail == nil {
		upgraded.Thumbnail = cv.Metadata.Thumbnail
		upgraded.ThumbnailWidth = cv.Metadata.ThumbnailWidth
		upgraded.ThumbnailHeight = cv.Metadata.ThumbnailHeight
	}
	if err := db.UpsertVolume(upgraded); err != nil {
		return errors.Wrap(err, "ingest: upgrade metadata")
	}
	return nil
}
