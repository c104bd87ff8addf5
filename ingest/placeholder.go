package ingest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/mokuroreader/corestore/cmn/cos"
)

// placeholderWidth/Height keep the fabricated image tiny: it only needs to
// render as a deterministic, visually distinct stand-in.
const (
	placeholderWidth  = 64
	placeholderHeight = 90
)

// placeholderColor is a loud, unmistakable magenta — nothing a real manga
// page would plausibly be scanned as.
var placeholderColor = color.NRGBA{R: 0xe8, G: 0x1a, B: 0xd6, A: 0xff}

var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// missingPagePlaceholder fabricates the single small, distinctively
// coloured PNG that stands in for every missing page path.
func missingPagePlaceholder() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		for x := 0; x < placeholderWidth; x++ {
			img.SetNRGBA(x, y, placeholderColor)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// isPNG reports whether blob starts with the PNG magic bytes.
func isPNG(blob []byte) bool {
	return bytes.HasPrefix(blob, pngMagic)
}

// isPlaceholderPNG is the cover-safety heuristic: "a PNG
// blob whose path's extension disagrees with its declared content type and
// whose path is in missing_page_paths". It checks the PNG magic and
// membership in the missing set only; the path's extension is not
// compared, so a missing page is caught whether or not its path ends in
// ".png", and a PNG at a path outside the missing set is never flagged.
func isPlaceholderPNG(path string, blob []byte, missing map[string]struct{}) bool {
	if !isPNG(blob) {
		return false
	}
	if _, ok := missing[path]; !ok {
		return false
	}
	return true
}

// coverCandidate reports whether path/blob may ever be chosen as a cover,
// never a missing-page path, never a placeholder PNG.
func coverCandidate(path string, blob []byte, missing map[string]struct{}) bool {
	if _, ok := missing[path]; ok {
		return false
	}
	if isPlaceholderPNG(path, blob, missing) {
		return false
	}
	return cos.IsRasterImage(cos.Ext(path))
}
