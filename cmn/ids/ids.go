// Package ids implements the deterministic identity scheme:
// series_uuid = H(series_title), volume_uuid = H(series_title + "/" +
// volume_title). H must be stable across processes and machines so two
// devices that independently ingest the same archive agree on identity;
// we use github.com/OneOfOne/xxhash rather than Go's
// non-deterministic-across-versions maphash, and format
// the digest as a UUID-shaped string so it drops into any `uuid string`
// field the rest of the system expects.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package ids

import (
	"fmt"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// H hashes s into a 128-bit value (two independent 64-bit xxhash digests,
// the second seeded with the first) and renders it as a UUID-shaped string.
// This is deterministic for a given input across processes and platforms.
func H(s string) string {
	h1 := xxhash.Checksum64([]byte(s))
	h2 := xxhash.ChecksumString64S(s, h1)
	b := make([]byte, 16)
	for i := 0; i < 8; i++ {
		b[i] = byte(h1 >> (8 * uint(i)))
		b[8+i] = byte(h2 >> (8 * uint(i)))
	}
	// Stamp version/variant nibbles so the string round-trips through any
	// strict UUID parser downstream, without weakening determinism: only
	// fixed bits are overwritten, the hash entropy fills the rest.
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// SeriesUUID derives series_uuid from a series title (case-sensitive: the
// caller is responsible for any canonicalisation before hashing).
func SeriesUUID(seriesTitle string) string { return H(seriesTitle) }

// VolumeUUID derives volume_uuid from series title + volume title.
func VolumeUUID(seriesTitle, volumeTitle string) string {
	return H(seriesTitle + "/" + volumeTitle)
}

// NormalizedPath lowercases and forward-slashes a "Series/Volume.ext" style
// path for case-insensitive comparisons.
func NormalizedPath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}
