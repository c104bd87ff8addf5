package ingest

import (
	"testing"

	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/model"
)

func imageOnlyRow(series, volume string, pageCount int) *model.Volume {
	return &model.Volume{
		VolumeUUID:  ids.VolumeUUID(series, volume),
		SeriesUUID:  ids.SeriesUUID(series),
		SeriesTitle: series,
		VolumeTitle: volume,
		PageCount:   pageCount,
	}
}

func TestCanonicalizeOCRUpgrade(t *testing.T) {
	existing := imageOnlyRow("One_Piece", "Volume_02", 2)
	sidecar := mokuroJSON("One_Piece", "Volume_02", []string{"01.png", "02.png"}, 30)

	cv, err := CanonicalizeOCRUpgrade(sidecar, existing)
	if err != nil {
		t.Fatal(err)
	}
	if cv.Metadata.MokuroVersion == "" {
		t.Error("upgrade must set mokuro_version")
	}
	if cv.Metadata.CharacterCount != 60 {
		t.Errorf("character_count = %d, want 60", cv.Metadata.CharacterCount)
	}
	if len(cv.Metadata.PageCharCounts) != 2 || cv.Metadata.PageCharCounts[0] != 30 {
		t.Errorf("page_char_counts = %v", cv.Metadata.PageCharCounts)
	}
	if cv.OCR == nil || len(cv.OCR.Pages) != 2 {
		t.Fatal("ocr pages missing")
	}
	if cv.PageFiles != nil {
		t.Error("sidecar-only upgrade must not fabricate page files")
	}
	// The existing row must not be mutated (Clone semantics).
	if existing.MokuroVersion != "" {
		t.Error("existing row was mutated in place")
	}
}

func TestCanonicalizeOCRUpgradeGzip(t *testing.T) {
	existing := imageOnlyRow("S", "V", 1)
	raw := mokuroJSON("S", "V", []string{"01.png"}, 5)
	cv, err := CanonicalizeOCRUpgrade(gzipBytes(t, raw), existing)
	if err != nil {
		t.Fatal(err)
	}
	if cv.Metadata.CharacterCount != 5 {
		t.Errorf("gz sidecar: chars = %d", cv.Metadata.CharacterCount)
	}
}

func TestCanonicalizeOCRUpgradeMalformed(t *testing.T) {
	if _, err := CanonicalizeOCRUpgrade([]byte("{nope"), imageOnlyRow("S", "V", 1)); err == nil {
		t.Fatal("malformed sidecar must error")
	}
}

// Upgrade idempotence: WriteVolume with OCR against
// a row that already has OCR is a no-op.
func TestUpgradeIdempotent(t *testing.T) {
	db := openTestDB(t)
	existing := imageOnlyRow("S", "V", 1)
	if err := db.UpsertVolume(existing); err != nil {
		t.Fatal(err)
	}

	sidecar := mokuroJSON("S", "V", []string{"01.png"}, 10)
	cv, err := CanonicalizeOCRUpgrade(sidecar, existing)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteVolume(db, cv); err != nil {
		t.Fatal(err)
	}
	first, _ := db.GetVolumeByUUID(existing.VolumeUUID)

	// Re-run the same upgrade; nothing may change.
	cv2, _ := CanonicalizeOCRUpgrade(sidecar, first)
	if err := WriteVolume(db, cv2); err != nil {
		t.Fatal(err)
	}
	second, _ := db.GetVolumeByUUID(existing.VolumeUUID)
	if second.MokuroVersion != first.MokuroVersion || second.CharacterCount != first.CharacterCount {
		t.Error("second upgrade changed the row")
	}
}
