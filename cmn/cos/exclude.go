// Package cos holds small, dependency-free helpers shared across the
// ingest, catalog, and provider packages: path classification, natural-order
// sorting, and the system-file exclusion set.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package cos

import "strings"

// excludedNames is the exact, case-sensitive set of entry names ingest must
// skip silently.
var excludedNames = map[string]struct{}{
	"__MACOSX":                   {},
	".DS_Store":                  {},
	".Trashes":                   {},
	".Spotlight-V100":            {},
	".fseventsd":                 {},
	".TemporaryItems":            {},
	".Trash":                     {},
	"System Volume Information":  {},
	"$RECYCLE.BIN":               {},
	"Thumbs.db":                  {},
	"desktop.ini":                {},
	"Desktop.ini":                {},
	"RECYCLER":                   {},
	"RECYCLED":                   {},
	".Trash-1000":                {},
	".thumbnails":                {},
	".directory":                 {},
	".dropbox":                   {},
	".dropbox.cache":             {},
	".git":                       {},
	".svn":                       {},
}

var excludedExts = map[string]struct{}{
	"bak":  {},
	"tmp":  {},
	"temp": {},
}

// IsExcludedEntry reports whether a zip entry path must be skipped silently
// during ingest.
func IsExcludedEntry(path string) bool {
	segs := strings.Split(strings.ReplaceAll(path, "\\", "/"), "/")
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		if _, ok := excludedNames[seg]; ok {
			return true
		}
		if strings.HasPrefix(seg, "._") || strings.HasSuffix(seg, "~") {
			return true
		}
	}
	if ext := Ext(path); ext != "" {
		if _, ok := excludedExts[strings.ToLower(ext)]; ok {
			return true
		}
	}
	return false
}

// Ext returns the file extension without the leading dot, lower-cased.
func Ext(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}

// Stem returns the base name of path with its final extension removed.
func Stem(path string) string {
	base := path
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		base = path[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

var rasterExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "avif": {}, "gif": {}, "bmp": {},
}

// IsRasterImage reports whether ext (without dot) is a known page-image format.
func IsRasterImage(ext string) bool {
	_, ok := rasterExts[strings.ToLower(ext)]
	return ok
}

var nestedArchiveExts = map[string]struct{}{
	"zip": {}, "cbz": {}, "cbr": {}, "rar": {}, "7z": {},
}

// IsNestedArchive reports whether ext (without dot) denotes a container that
// must itself be recursively ingested as a (or several) volume(s).
func IsNestedArchive(ext string) bool {
	_, ok := nestedArchiveExts[strings.ToLower(ext)]
	return ok
}

var thumbExts = map[string]struct{}{
	"webp": {}, "png": {}, "jpg": {}, "jpeg": {}, "avif": {}, "gif": {},
}

// IsThumbExt reports whether ext (without dot) is an allowed root-level
// thumbnail-sidecar extension.
func IsThumbExt(ext string) bool {
	_, ok := thumbExts[strings.ToLower(ext)]
	return ok
}
