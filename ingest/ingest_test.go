package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/store"
)

// pagePNG renders a tiny real PNG so cover generation has something to
// decode.
func pagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 6))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
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

func mokuroJSON(title, volume string, pageNames []string, charsPerPage int) []byte {
	var pages []string
	for _, n := range pageNames {
		line := ""
		for i := 0; i < charsPerPage; i++ {
			line += "字"
		}
		pages = append(pages, fmt.Sprintf(
			`{"img_path":%q,"img_width":800,"img_height":1200,"blocks":[{"box":[10,10,100,200],"vertical":true,"font_size":24,"lines":[%q]}]}`,
			n, line))
	}
	return []byte(fmt.Sprintf(
		`{"version":"0.1.8","title":%q,"volume":%q,"pages":[%s],"chars":%d,"unknown_field":true}`,
		title, volume, joinComma(pages), charsPerPage*len(pageNames)))
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
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

// fresh ingest of an archive with sidecar.
func TestFreshIngestWithSidecar(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	entries := map[string][]byte{}
	var names []string
	for i := 1; i <= 20; i++ {
		n := fmt.Sprintf("%02d.png", i)
		names = append(names, n)
		entries[n] = page
	}
	entries["Volume_01.mokuro"] = mokuroJSON("One_Piece", "Volume_01", names, 175) // 20*175 = 3500

	src := VolumeSource{BasePath: "One_Piece/Volume_01.cbz", Data: buildZip(t, entries)}
	if err := IngestOne(db, src); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	uuid := ids.VolumeUUID("One_Piece", "Volume_01")
	vol, err := db.GetVolumeByUUID(uuid)
	if err != nil || vol == nil {
		t.Fatalf("volume row missing: %v", err)
	}
	if vol.MokuroVersion == "" {
		t.Error("mokuro_version should be set")
	}
	if vol.PageCount != 20 {
		t.Errorf("page_count = %d, want 20", vol.PageCount)
	}
	if vol.CharacterCount != 3500 {
		t.Errorf("character_count = %d, want 3500", vol.CharacterCount)
	}
	if vol.Thumbnail == nil {
		t.Error("cover should be generated from the first page")
	}
	ocr, err := db.GetOCR(uuid)
	if err != nil || ocr == nil {
		t.Fatalf("ocr row missing: %v", err)
	}
	if len(ocr.Pages) != vol.PageCount {
		t.Errorf("ocr pages %d != page_count %d", len(ocr.Pages), vol.PageCount)
	}
	var fileCount int
	db.ListFilePaths(uuid, func(string) bool { fileCount++; return true })
	if fileCount != 20 {
		t.Errorf("file blobs = %d, want 20", fileCount)
	}
}

// image-only ingest.
func TestImageOnlyIngest(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	entries := map[string][]byte{}
	for i := 1; i <= 20; i++ {
		entries[fmt.Sprintf("%02d.png", i)] = page
	}
	src := VolumeSource{BasePath: "One_Piece/Volume_02.cbz", Data: buildZip(t, entries)}
	if err := IngestOne(db, src); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	uuid := ids.VolumeUUID("One_Piece", "Volume_02")
	vol, _ := db.GetVolumeByUUID(uuid)
	if vol == nil {
		t.Fatal("volume row missing")
	}
	if !vol.IsImageOnly() {
		t.Error("mokuro_version should be empty")
	}
	if vol.CharacterCount != 0 {
		t.Error("character_count should be 0 for image-only")
	}
	if vol.SeriesTitle != "One_Piece" || vol.VolumeTitle != "Volume_02" {
		t.Errorf("derived titles: %q/%q", vol.SeriesTitle, vol.VolumeTitle)
	}
	if ocr, _ := db.GetOCR(uuid); ocr != nil {
		t.Error("image-only volume must not have an OCR row")
	}
}

// Dedup idempotence: same archive twice, one row.
func TestIngestIdempotent(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	entries := map[string][]byte{
		"01.png":           page,
		"Volume_01.mokuro": mokuroJSON("One_Piece", "Volume_01", []string{"01.png"}, 10),
	}
	src := VolumeSource{BasePath: "One_Piece/Volume_01.cbz", Data: buildZip(t, entries)}
	for i := 0; i < 2; i++ {
		if err := IngestOne(db, src); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	all, err := db.AllVolumes()
	if err != nil || len(all) != 1 {
		t.Fatalf("want exactly one row, got %d (%v)", len(all), err)
	}
}

// image-only
// row upgraded in place, stats preserved.
func TestImageOnlyUpgradedBySidecarIngest(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	imageOnly := map[string][]byte{"01.png": page, "02.png": page}
	src := VolumeSource{BasePath: "One_Piece/Volume_02.cbz", Data: buildZip(t, imageOnly)}
	if err := IngestOne(db, src); err != nil {
		t.Fatal(err)
	}
	uuid := ids.VolumeUUID("One_Piece", "Volume_02")
	if err := db.UpsertStats(&model.VolumeStats{VolumeUUID: uuid, CurrentPage: 7}); err != nil {
		t.Fatal(err)
	}

	withSidecar := map[string][]byte{
		"01.png": page, "02.png": page,
		"Volume_02.mokuro": mokuroJSON("One_Piece", "Volume_02", []string{"01.png", "02.png"}, 50),
	}
	src2 := VolumeSource{BasePath: "One_Piece/Volume_02.cbz", Data: buildZip(t, withSidecar)}
	if err := IngestOne(db, src2); err != nil {
		t.Fatal(err)
	}

	vol, _ := db.GetVolumeByUUID(uuid)
	if vol.IsImageOnly() {
		t.Fatal("upgrade did not set mokuro_version")
	}
	if vol.CharacterCount != 100 {
		t.Errorf("character_count = %d, want 100", vol.CharacterCount)
	}
	stats, _ := db.GetStats(uuid)
	if stats == nil || stats.CurrentPage != 7 {
		t.Error("reading stats must survive the upgrade")
	}
}

// sidecar references a page the archive omits.
func TestMissingPagePlaceholder(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	entries := map[string][]byte{
		"01.jpg": page, // declared .jpg, actually PNG bytes — fine, heuristic only fires on missing paths
		"02.jpg": page,
		"Volume_03.mokuro": mokuroJSON("One_Piece", "Volume_03",
			[]string{"01.jpg", "02.jpg", "03.jpg"}, 10),
	}
	src := VolumeSource{BasePath: "One_Piece/Volume_03.cbz", Data: buildZip(t, entries)}
	if err := IngestOne(db, src); err != nil {
		t.Fatalf("ingest must tolerate missing pages: %v", err)
	}

	uuid := ids.VolumeUUID("One_Piece", "Volume_03")
	vol, _ := db.GetVolumeByUUID(uuid)
	if len(vol.MissingPagePaths) != 1 || vol.MissingPagePaths[0] != "03.jpg" {
		t.Fatalf("missing_page_paths = %v", vol.MissingPagePaths)
	}
	blob, err := db.GetFile(uuid, "03.jpg")
	if err != nil || blob == nil {
		t.Fatal("placeholder blob must occupy the missing path")
	}
	if !isPNG(blob) {
		t.Error("placeholder must be a PNG")
	}
	if vol.PageCount != 3 {
		t.Errorf("page_count = %d, want 3", vol.PageCount)
	}
}

// Nested archives each produce their own volume; a corrupt nested archive
// doesn't abort its siblings.
func TestNestedArchives(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	inner1 := buildZip(t, map[string][]byte{"01.png": page})
	inner2 := buildZip(t, map[string][]byte{"01.png": page})
	outer := buildZip(t, map[string][]byte{
		"Vol_01.cbz":  inner1,
		"Vol_02.cbz":  inner2,
		"corrupt.cbz": []byte("not a zip"),
	})
	src := VolumeSource{BasePath: "Naruto.zip", Data: outer}
	if err := IngestOne(db, src); err != nil {
		t.Fatalf("outer ingest: %v", err)
	}
	all, _ := db.AllVolumes()
	// outer itself has no pages -> still written as an empty image-only
	// volume plus the two nested ones.
	var nested int
	for _, v := range all {
		if v.VolumeTitle == "Vol_01" || v.VolumeTitle == "Vol_02" {
			nested++
		}
	}
	if nested != 2 {
		t.Fatalf("want 2 nested volumes, got %d of %d rows", nested, len(all))
	}
}

// Batch independence: one bad archive never stops the rest.
func TestIngestBatchIndependent(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	good := VolumeSource{BasePath: "A/V1.cbz", Data: buildZip(t, map[string][]byte{"01.png": page})}
	bad := VolumeSource{BasePath: "B/V1.cbz", Data: []byte("garbage")}
	errs := IngestBatch(db, []VolumeSource{bad, good})
	if len(errs) != 1 {
		t.Fatalf("want 1 error, got %v", errs)
	}
	if v, _ := db.GetVolumeByUUID(ids.VolumeUUID("A", "V1")); v == nil {
		t.Fatal("good sibling was not ingested")
	}
}

// The batch presence filter must not weaken dedup: a duplicate within the
// same batch and a volume already stored both still end up as one row.
func TestIngestBatchDedup(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	src := VolumeSource{
		BasePath: "A/V1.cbz",
		Data: buildZip(t, map[string][]byte{
			"01.png":    page,
			"V1.mokuro": mokuroJSON("A", "V1", []string{"01.png"}, 10),
		}),
	}

	if errs := IngestBatch(db, []VolumeSource{src, src}); len(errs) != 0 {
		t.Fatalf("batch errors: %v", errs)
	}
	all, err := db.AllVolumes()
	if err != nil || len(all) != 1 {
		t.Fatalf("duplicate within one batch: want 1 row, got %d (%v)", len(all), err)
	}

	// A second batch against the now-populated db is a no-op too.
	if errs := IngestBatch(db, []VolumeSource{src}); len(errs) != 0 {
		t.Fatalf("second batch errors: %v", errs)
	}
	all, _ = db.AllVolumes()
	if len(all) != 1 {
		t.Fatalf("re-batch of stored volume: want 1 row, got %d", len(all))
	}
}

// Extra images not referenced by the sidecar still belong to the volume.
func TestSidecarPlusExtraImages(t *testing.T) {
	db := openTestDB(t)
	page := pagePNG(t)
	entries := map[string][]byte{
		"01.png":     page,
		"bonus.png":  page,
		"Vol.mokuro": mokuroJSON("S", "Vol", []string{"01.png"}, 5),
	}
	src := VolumeSource{BasePath: "S/Vol.cbz", Data: buildZip(t, entries)}
	if err := IngestOne(db, src); err != nil {
		t.Fatal(err)
	}
	vol, _ := db.GetVolumeByUUID(ids.VolumeUUID("S", "Vol"))
	if vol.PageCount != 2 {
		t.Errorf("page_count = %d, want union of sidecar + extras = 2", vol.PageCount)
	}
}

func TestDeriveTitles(t *testing.T) {
	tests := []struct {
		base, series, volume string
	}{
		{"One_Piece/Volume_01.cbz", "One_Piece", "Volume_01"},
		{`One_Piece\Volume_01.cbz`, "One_Piece", "Volume_01"},
		{"Volume_01.cbz", "Volume_01", "Volume_01"},
		{"/deep/One_Piece.cbz", "deep", "One_Piece"},
	}
	for _, tc := range tests {
		s, v := deriveTitles(tc.base)
		if s != tc.series || v != tc.volume {
			t.Errorf("deriveTitles(%q) = %q/%q, want %q/%q", tc.base, s, v, tc.series, tc.volume)
		}
	}
}
