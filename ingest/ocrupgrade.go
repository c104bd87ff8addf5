package ingest

import (
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
)

// CanonicalizeOCRUpgrade parses a standalone .mokuro/.mokuro.gz sidecar
// blob (no archive attached) and builds the CanonicalVolume WriteVolume
// needs to perform the in-place upgrade: mokuro_version and the character
// counts come from the sidecar, page_count grows to the sidecar's page
// count when that is larger, and the thumbnail and every other field are
// kept from existing. No page files are produced, since none accompany
// this path (the auto-upgrade matcher downloads only the sidecar).
func CanonicalizeOCRUpgrade(sidecarBlob []byte, existing *model.Volume) (*CanonicalVolume, error) {
	raw := sidecarBlob
	if decoded, ok := gunzip(sidecarBlob); ok {
		raw = decoded
	}
	mk, err := parseMokuro(raw)
	if err != nil {
		return nil, coserrors.Wrap(coserrors.KindSchema, err, "ingest: malformed upgrade sidecar")
	}

	ocrPages := make([]model.Page, 0, len(mk.Pages))
	charCount := 0
	pageCharCounts := make([]int, 0, len(mk.Pages))
	for _, mp := range mk.Pages {
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

	chars := mk.Chars
	if chars == 0 {
		chars = charCount
	}

	meta := existing.Clone()
	meta.MokuroVersion = nonEmpty(mk.Version, "1")
	meta.CharacterCount = chars
	meta.PageCharCounts = pageCharCounts
	if len(ocrPages) > meta.PageCount {
		meta.PageCount = len(ocrPages)
	}

	return &CanonicalVolume{
		Metadata: meta,
		OCR:      &model.VolumeOCR{VolumeUUID: existing.VolumeUUID, Pages: ocrPages},
	}, nil
}
