// Package importurl implements the `?source=&manga=&volume=` import
// surface: a thin adapter that fetches a volume archive over HTTP using
// the resumable download engine and feeds it through the ingest
// pipeline as if the files had been dropped locally.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package importurl

import (
	"context"
	"net/url"

	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/ingest"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
)

// Request mirrors the `?source=&manga=&volume=` query surface.
type Request struct {
	Source string // archive URL
	Manga  string // series title
	Volume string // volume title
}

// ParseQuery builds a Request from a raw query string (the `?...` part of
// an import link).
func ParseQuery(raw string) (Request, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Request{}, errors.Wrap(err, "importurl: parse query")
	}
	req := Request{
		Source: values.Get("source"),
		Manga:  values.Get("manga"),
		Volume: values.Get("volume"),
	}
	if req.Source == "" || req.Manga == "" || req.Volume == "" {
		return Request{}, errors.New("importurl: source, manga and volume are all required")
	}
	return req, nil
}

// Import fetches req.Source over HTTP via the resumable download state
// machine and writes the resulting volume to db.
func Import(ctx context.Context, db *store.DB, getter provider.HTTPGetter, req Request, onProgress func(loaded, total int64)) error {
	sink := &provider.BufferSink{}
	if err := provider.ResumeDownload(ctx, getter, req.Source, sink, onProgress); err != nil {
		return errors.Wrap(err, "importurl: download")
	}

	entries, err := ingest.Decompress(sink.Bytes())
	if err != nil {
		return errors.Wrap(err, "importurl: decompress")
	}

	basePath := req.Manga + "/" + req.Volume
	cv, _, err := ingest.Canonicalize(entries, basePath)
	if err != nil {
		return errors.Wrap(err, "importurl: canonicalize")
	}
	cv.Metadata.VolumeUUID = ids.VolumeUUID(req.Manga, req.Volume)
	cv.Metadata.SeriesUUID = ids.SeriesUUID(req.Manga)

	if err := ingest.WriteVolume(db, cv); err != nil {
		return errors.Wrap(err, "importurl: write volume")
	}
	return nil
}
