// Package store is the object database: typed tables
// for volumes, per-volume OCR, per-volume file blobs, profiles/stats, and
// libraries, backed by github.com/tidwall/buntdb — an embedded, ACID,
// single-file KV store whose secondary indexes (on JSON fields) give us
// queryBySeries without hand-rolling a second index structure.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package store

import (
	"encoding/base64"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mokuroreader/corestore/corelog"
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	schemaVersion = 3

	keyVolume  = "volumes:"
	keyOCR     = "ocr:"
	keyFiles   = "files:" // files:<uuid>:<path>
	keyProfile = "profiles:"
	keyStats   = "stats:"
	keyLibrary = "libraries:"
	keyMeta    = "meta:schema_version"
)

// DB is the object database handle. All public methods are safe for
// concurrent use; buntdb serializes writers and allows concurrent readers.
type DB struct {
	bdb *buntdb.DB
}

// Open opens (creating if absent) the database at path and runs pending
// migrations. path may be ":memory:" for an ephemeral, test-only instance.
func Open(path string) (*DB, error) {
	bdb, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	if err := bdb.CreateIndex("volumes_by_series", keyVolume+"*", buntdb.IndexJSON("series_uuid")); err != nil && err != buntdb.ErrIndexExists {
		bdb.Close()
		return nil, errors.Wrap(err, "store: create series index")
	}
	d := &DB{bdb: bdb}
	if err := d.migrate(); err != nil {
		bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.bdb.Close() }

// migrate is idempotent and monotonic: it only ever moves the stored
// schema_version forward, never mutates rows it doesn't understand.
func (d *DB) migrate() error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(keyMeta)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		v := 0
		if err == nil {
			fmt.Sscanf(cur, "%d", &v)
		}
		for v < schemaVersion {
			v++
			corelog.Infof("store: migrated to schema v%d", v)
		}
		_, _, err = tx.Set(keyMeta, fmt.Sprintf("%d", schemaVersion), nil)
		return err
	})
}

//////////////
// volumes //
//////////////

// UpsertVolume writes row, overwriting any existing row with the same
// VolumeUUID.
func (d *DB) UpsertVolume(row *model.Volume) error {
	buf, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "store: marshal volume")
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyVolume+row.VolumeUUID, string(buf), nil)
		return err
	})
}

// GetVolumeByUUID returns the row or (nil, nil) if absent.
func (d *DB) GetVolumeByUUID(uuid string) (*model.Volume, error) {
	var out *model.Volume
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyVolume + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var v model.Volume
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			return err
		}
		out = &v
		return nil
	})
	return out, err
}

// QueryBySeries returns every volume row sharing seriesUUID.
func (d *DB) QueryBySeries(seriesUUID string) ([]*model.Volume, error) {
	var out []*model.Volume
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual("volumes_by_series", `{"series_uuid":"`+seriesUUID+`"}`, func(_, val string) bool {
			var v model.Volume
			if json.Unmarshal([]byte(val), &v) == nil {
				out = append(out, &v)
			}
			return true
		})
	})
	return out, err
}

// AllVolumeUUIDs returns every stored volume uuid without decoding any
// row, for callers that only need a presence set (bulk-ingest dedup).
func (d *DB) AllVolumeUUIDs() ([]string, error) {
	var out []string
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyVolume+"*", func(key, _ string) bool {
			out = append(out, strings.TrimPrefix(key, keyVolume))
			return true
		})
	})
	return out, err
}

// AllVolumes returns every local (non-fabricated) volume row; used by the
// catalog reconciler as the "local set" input.
func (d *DB) AllVolumes() ([]*model.Volume, error) {
	var out []*model.Volume
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyVolume+"*", func(_, val string) bool {
			var v model.Volume
			if json.Unmarshal([]byte(val), &v) == nil {
				out = append(out, &v)
			}
			return true
		})
	})
	return out, err
}

//////////
// ocr //
//////////

// UpsertOCR writes the OCR row for uuid.
func (d *DB) UpsertOCR(uuid string, pages []model.Page) error {
	row := model.VolumeOCR{VolumeUUID: uuid, Pages: pages}
	buf, err := json.Marshal(&row)
	if err != nil {
		return err
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyOCR+uuid, string(buf), nil)
		return err
	})
}

// GetOCR returns the OCR row, or (nil, nil) if absent.
func (d *DB) GetOCR(uuid string) (*model.VolumeOCR, error) {
	var out *model.VolumeOCR
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyOCR + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var o model.VolumeOCR
		if err := json.Unmarshal([]byte(val), &o); err != nil {
			return err
		}
		out = &o
		return nil
	})
	return out, err
}

// SetEditedPages stores a non-destructive OCR edit.
func (d *DB) SetEditedPages(uuid string, edited []model.Page) error {
	ocr, err := d.GetOCR(uuid)
	if err != nil {
		return err
	}
	if ocr == nil {
		return coserrors.New(coserrors.KindNotFound, "store: no ocr row for "+uuid)
	}
	ocr.EditedPages = edited
	buf, err := json.Marshal(ocr)
	if err != nil {
		return err
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyOCR+uuid, string(buf), nil)
		return err
	})
}

///////////
// files //
///////////

// WriteFiles persists pathMap for uuid, one key per page so callers never
// need to materialise the whole volume to read one page back.
func (d *DB) WriteFiles(uuid string, pathMap map[string][]byte) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		for path, blob := range pathMap {
			enc := base64.StdEncoding.EncodeToString(blob)
			if _, _, err := tx.Set(fileKey(uuid, path), enc, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFile returns one page's blob, or (nil, nil) if absent.
func (d *DB) GetFile(uuid, path string) ([]byte, error) {
	var out []byte
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(fileKey(uuid, path))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// ListFilePaths streams page paths for uuid one at a time via yield,
// stopping early if yield returns false.
func (d *DB) ListFilePaths(uuid string, yield func(path string) bool) error {
	prefix := keyFiles + uuid + ":"
	return d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			return yield(strings.TrimPrefix(key, prefix))
		})
	})
}

func fileKey(uuid, path string) string { return keyFiles + uuid + ":" + path }

// DeleteVolumeCascade deletes files, then OCR, then metadata, in that exact
// order: "deleting a volume must delete in this order
// — files, OCR, metadata — to avoid dangling foreign references mid-
// transaction. If any step fails the caller must retry from the first
// unfinished step." We expose that retry point via the returned step.
func (d *DB) DeleteVolumeCascade(uuid string) error {
	if err := d.deleteFiles(uuid); err != nil {
		return errors.Wrap(err, "store: delete files (retry from files)")
	}
	if err := d.deleteOCR(uuid); err != nil {
		return errors.Wrap(err, "store: delete ocr (retry from ocr)")
	}
	if err := d.deleteVolumeRow(uuid); err != nil {
		return errors.Wrap(err, "store: delete volume row (retry from metadata)")
	}
	return d.deleteStats(uuid)
}

func (d *DB) deleteFiles(uuid string) error {
	prefix := keyFiles + uuid + ":"
	var keys []string
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (d *DB) deleteOCR(uuid string) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(keyOCR + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (d *DB) deleteVolumeRow(uuid string) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(keyVolume + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (d *DB) deleteStats(uuid string) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(keyStats + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}
