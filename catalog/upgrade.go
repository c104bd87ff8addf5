package catalog

import (
	"context"

	"github.com/mokuroreader/corestore/ingest"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
)

// ApplyUpgrade is the auto-upgrade matcher's action: download only the
// sidecar, merge it into the local volume in place (mokuro_version, OCR,
// recomputed character counts), preserving reading
// stats. Re-running on an already-upgraded volume is a no-op, detected
// the same way ingest.WriteVolume detects it: an existing OCR-bearing row
// short-circuits.
func ApplyUpgrade(ctx context.Context, db *store.DB, p provider.Provider, c UpgradeCandidate) error {
	current, err := db.GetVolumeByUUID(c.Local.VolumeUUID)
	if err != nil {
		return errors.Wrap(err, "upgrade: lookup current volume")
	}
	if current == nil {
		return errors.Errorf("upgrade: volume %s no longer exists", c.Local.VolumeUUID)
	}
	if !current.IsImageOnly() {
		return nil // already upgraded (by this path or a direct re-ingest)
	}

	sidecarBlob, err := p.DownloadFile(ctx, model.RemoteFileMetadata{
		Provider: c.Provider, FileID: c.SidecarFileID, Path: c.SidecarPath,
	}, nil)
	if err != nil {
		return errors.Wrap(err, "upgrade: download sidecar")
	}

	cv, err := ingest.CanonicalizeOCRUpgrade(sidecarBlob, current)
	if err != nil {
		return errors.Wrap(err, "upgrade: canonicalize sidecar")
	}

	return ingest.WriteVolume(db, cv)
}
