package store

import (
	"encoding/base64"

	"github.com/mokuroreader/corestore/model"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

///////////
// stats //
///////////

// UpsertStats writes a volume's reading-progress row, msgp-encoded (see
// stats_msgp.go) and base64-wrapped since buntdb values are strings.
func (d *DB) UpsertStats(s *model.VolumeStats) error {
	enc := base64.StdEncoding.EncodeToString(marshalStats(s))
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyStats+s.VolumeUUID, enc, nil)
		return err
	})
}

// GetStats returns the row, or (nil, nil) if absent.
func (d *DB) GetStats(uuid string) (*model.VolumeStats, error) {
	var out *model.VolumeStats
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyStats + uuid)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return err
		}
		s, err := unmarshalStats(raw)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

//////////////
// profiles //
//////////////

// UpsertProfile writes a named profile. If markCurrent is set, every other
// profile's IsCurrent is cleared first, keeping the "exactly one is
// designated current" invariant.
func (d *DB) UpsertProfile(p *model.Profile, markCurrent bool) error {
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		if markCurrent {
			var keys []string
			tx.AscendKeys(keyProfile+"*", func(key, _ string) bool {
				keys = append(keys, key)
				return true
			})
			for _, k := range keys {
				val, err := tx.Get(k)
				if err != nil {
					continue
				}
				var existing model.Profile
				if json.Unmarshal([]byte(val), &existing) == nil && existing.IsCurrent {
					existing.IsCurrent = false
					buf, _ := json.Marshal(&existing)
					tx.Set(k, string(buf), nil)
				}
			}
			p.IsCurrent = true
		}
		buf, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(keyProfile+p.Name, string(buf), nil)
		return err
	})
}

// GetProfile returns the named profile, or (nil, nil) if absent.
func (d *DB) GetProfile(name string) (*model.Profile, error) {
	var out *model.Profile
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyProfile + name)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var p model.Profile
		if err := json.Unmarshal([]byte(val), &p); err != nil {
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

// CurrentProfile returns whichever profile has IsCurrent set, creating and
// marking "Default" current if none exists yet.
func (d *DB) CurrentProfile() (*model.Profile, error) {
	var found *model.Profile
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyProfile+"*", func(_, val string) bool {
			var p model.Profile
			if json.Unmarshal([]byte(val), &p) == nil && p.IsCurrent {
				found = &p
				return false
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}
	def := &model.Profile{Name: "Default", Settings: map[string]interface{}{}}
	if err := d.UpsertProfile(def, true); err != nil {
		return nil, errors.Wrap(err, "store: create default profile")
	}
	return def, nil
}

///////////////
// libraries //
///////////////

// UpsertLibrary writes a library config row; Password is expected to
// already be encrypted by the caller (see store/crypt.go).
func (d *DB) UpsertLibrary(l *model.LibraryConfig) error {
	buf, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return d.bdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyLibrary+l.ID, string(buf), nil)
		return err
	})
}

// GetLibrary returns the row, or (nil, nil) if absent.
func (d *DB) GetLibrary(id string) (*model.LibraryConfig, error) {
	var out *model.LibraryConfig
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(keyLibrary + id)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var l model.LibraryConfig
		if err := json.Unmarshal([]byte(val), &l); err != nil {
			return err
		}
		out = &l
		return nil
	})
	return out, err
}

// AllLibraries returns every configured library.
func (d *DB) AllLibraries() ([]*model.LibraryConfig, error) {
	var out []*model.LibraryConfig
	err := d.bdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyLibrary+"*", func(_, val string) bool {
			var l model.LibraryConfig
			if json.Unmarshal([]byte(val), &l) == nil {
				out = append(out, &l)
			}
			return true
		})
	})
	return out, err
}
