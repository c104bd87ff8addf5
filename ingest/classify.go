package ingest

import (
	"strings"

	"github.com/mokuroreader/corestore/cmn/cos"
)

// classified is the sorted result of walking one archive's entries.
type classified struct {
	pages          map[string][]byte // img_path -> blob, as found in the archive
	mokuroSidecar  []byte            // nil if absent
	thumbnail      []byte            // nil if absent
	nestedArchives []Entry           // queued for recursive ingest
}

// classify partitions entries. archiveStem is the archive's
// own filename without extension, used to recognise a root-level thumbnail
// sidecar ("<stem>.<thumbext>").
func classify(entries []Entry, archiveStem string) *classified {
	out := &classified{pages: map[string][]byte{}}
	var gzSidecar []byte

	for _, e := range entries {
		if cos.IsExcludedEntry(e.Name) {
			continue
		}
		ext := cos.Ext(e.Name)
		switch {
		case ext == "gz" && strings.HasSuffix(strings.ToLower(e.Name), ".mokuro.gz"):
			gzSidecar = e.Data
		case ext == "mokuro":
			if out.mokuroSidecar == nil || !strings.Contains(e.Name, "/") {
				out.mokuroSidecar = e.Data
			}
		case cos.IsThumbExt(ext) && isArchiveRoot(e.Name) && cos.Stem(e.Name) == archiveStem:
			out.thumbnail = e.Data
		case cos.IsNestedArchive(ext):
			out.nestedArchives = append(out.nestedArchives, e)
		case cos.IsRasterImage(ext):
			out.pages[e.Name] = e.Data
		default:
			// ignored
		}
	}

	if out.mokuroSidecar == nil && gzSidecar != nil {
		if decoded, ok := gunzip(gzSidecar); ok {
			out.mokuroSidecar = decoded
		}
		// A corrupt gzip member is treated as an absent sidecar, never
		// an aborted ingest.
	}
	return out
}

func isArchiveRoot(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	return !strings.Contains(strings.Trim(name, "/"), "/")
}
