package ingest

import (
	"bytes"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"
)

// maxCoverSide is the long-side cap for generated covers.
const maxCoverSide = 320

// selectCoverPath returns the first candidate page path in canonical
// (already-sorted) order, or "" if none qualifies.
func selectCoverPath(orderedPaths []string, pages map[string][]byte, missing map[string]struct{}) string {
	for _, p := range orderedPaths {
		blob, ok := pages[p]
		if !ok {
			continue
		}
		if coverCandidate(p, blob, missing) {
			return p
		}
	}
	return ""
}

// buildCover decodes, downscales, and JPEG-encodes the cover image. The
// nearest-neighbour downscale stays on the standard library; covers are
// tiny and decode-bound, so a resize dependency buys nothing here.
func buildCover(blob []byte) (data []byte, w, h int, err error) {
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, 0, err
	}
	scaled, sw, sh := downscale(img, maxCoverSide)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), sw, sh, nil
}

func downscale(src image.Image, maxSide int) (image.Image, int, int) {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= maxSide && sh <= maxSide {
		return src, sw, sh
	}
	scale := float64(maxSide) / float64(sw)
	if sh > sw {
		scale = float64(maxSide) / float64(sh)
	}
	dw := max1(int(float64(sw) * scale))
	dh := max1(int(float64(sh) * scale))
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		sy := b.Min.Y + y*sh/dh
		for x := 0; x < dw; x++ {
			sx := b.Min.X + x*sw/dw
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst, dw, dh
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
