package ingest

import (
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// VolumeSource is one archive to ingest: its raw bytes and the path it was
// found at (used to derive series/volume titles and nested-archive paths).
type VolumeSource struct {
	BasePath string
	Data     []byte
}

// knownVolumes is a probabilistic presence set over stored volume uuids.
// A negative answer is definite, so a bulk import of all-new archives
// skips one metadata read per volume; a positive answer falls through to
// the exact lookup in writeVolume.
type knownVolumes struct {
	f *cuckoo.Filter
}

func loadKnownVolumes(db *store.DB) (*knownVolumes, error) {
	uuids, err := db.AllVolumeUUIDs()
	if err != nil {
		return nil, errors.Wrap(err, "ingest: load known volumes")
	}
	k := &knownVolumes{f: cuckoo.NewFilter(uint(len(uuids)) + 1024)}
	for _, u := range uuids {
		k.f.Insert([]byte(u))
	}
	return k, nil
}

func (k *knownVolumes) mightContain(uuid string) bool {
	return k.f.Lookup([]byte(uuid))
}

// add records a freshly written uuid so a duplicate later in the same
// batch still takes the exact-lookup path.
func (k *knownVolumes) add(uuid string) {
	k.f.Insert([]byte(uuid))
}

// IngestOne decompresses, canonicalizes, recursively ingests any nested
// archives, and writes src to db. A single volume's failure here never
// touches its siblings — the caller (IngestBatch) relies on that.
func IngestOne(db *store.DB, src VolumeSource) error {
	return ingestOne(db, src, nil)
}

func ingestOne(db *store.DB, src VolumeSource, known *knownVolumes) error {
	entries, err := Decompress(src.Data)
	if err != nil {
		return errors.Wrapf(err, "ingest: decompress %s", src.BasePath)
	}
	return ingestEntries(db, entries, src.BasePath, known)
}

func ingestEntries(db *store.DB, entries []Entry, basePath string, known *knownVolumes) error {
	cv, nested, err := Canonicalize(entries, basePath)
	if err != nil {
		return errors.Wrapf(err, "ingest: canonicalize %s", basePath)
	}
	if err := writeVolume(db, cv, known); err != nil {
		return errors.Wrapf(err, "ingest: write %s", basePath)
	}
	for _, n := range nested {
		nestedEntries, err := Decompress(n.Data)
		if err != nil {
			corelog.Errorf("ingest: nested archive %s: %v (skipped)", n.BasePath, err)
			continue
		}
		if err := ingestEntries(db, nestedEntries, n.BasePath, known); err != nil {
			// Batch ingest processes volumes independently — one failure
			// does not abort its siblings, including nested siblings
			// produced by the same outer archive.
			corelog.Errorf("ingest: nested archive %s failed: %v", n.BasePath, err)
		}
	}
	return nil
}

// IngestBatch runs every source through the pipeline; failures are
// collected, not propagated, so one bad archive never stops the rest. A
// presence filter over stored uuids spares each definitely-new volume its
// dedup lookup, which is the common case for a bulk import.
func IngestBatch(db *store.DB, sources []VolumeSource) []error {
	known, err := loadKnownVolumes(db)
	if err != nil {
		corelog.Warnf("ingest: presence filter unavailable, using exact lookups: %v", err)
		known = nil
	}
	var errs []error
	for _, src := range sources {
		if err := ingestOne(db, src, known); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
