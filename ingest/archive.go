package ingest

import (
	"archive/zip"
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Entry is one decompressed archive member: a name (possibly with internal
// path separators) and its raw bytes.
type Entry struct {
	Name string
	Data []byte
}

// Decompress opens a zip-family archive (cbz/zip) and returns its
// entries.
func Decompress(archiveBytes []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, errors.Wrap(err, "ingest: open archive")
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "ingest: open entry %s", f.Name)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "ingest: read entry %s", f.Name)
		}
		entries = append(entries, Entry{Name: f.Name, Data: data})
	}
	return entries, nil
}

// gunzip decompresses a gzip member (the .mokuro.gz sidecar case).
func gunzip(data []byte) ([]byte, bool) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return out, true
}
