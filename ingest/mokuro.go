// Package ingest implements the archive ingest pipeline: decompress,
// classify entries, tolerate missing pages, dedup by deterministic
// identifier, and write the canonical volume atomically.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package ingest

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// mokuroBlock mirrors the wire Block shape. Decoders must not
// reject additional fields, so we decode into this struct with jsoniter's
// default (extra-fields-ignored) behaviour rather than a strict decoder.
type mokuroBlock struct {
	Box      [4]float64 `json:"box"`
	Vertical bool       `json:"vertical"`
	FontSize float64    `json:"font_size"`
	Lines    []string   `json:"lines"`
}

type mokuroPage struct {
	ImgPath   string        `json:"img_path"`
	ImgWidth  int           `json:"img_width"`
	ImgHeight int           `json:"img_height"`
	Blocks    []mokuroBlock `json:"blocks"`
}

// mokuroFile mirrors the top-level .mokuro JSON shape.
type mokuroFile struct {
	Version    string       `json:"version"`
	Title      string       `json:"title"`
	TitleUUID  string       `json:"title_uuid"`
	Volume     string       `json:"volume"`
	VolumeUUID string       `json:"volume_uuid"`
	Pages      []mokuroPage `json:"pages"`
	Chars      int          `json:"chars"`
}

// parseMokuro decodes a .mokuro (or decompressed .mokuro.gz) JSON blob.
// Malformed JSON yields a plain wrapped error; callers classify it as
// KindSchema.
func parseMokuro(raw []byte) (*mokuroFile, error) {
	var m mokuroFile
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "ingest: malformed mokuro sidecar")
	}
	return &m, nil
}
