// Package model holds the row shapes: Volume, Volume OCR, Volume Files,
// Volume Stats, Profile, Remote File Metadata, and Library Config.
// These are plain data structures; behaviour (persistence,
// reconciliation, ingest) lives in the packages that operate on them.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package model

import "time"

// Volume is one book volume's metadata row.
type Volume struct {
	VolumeUUID   string `json:"volume_uuid"`
	SeriesUUID   string `json:"series_uuid"`
	SeriesTitle  string `json:"series_title"`
	VolumeTitle  string `json:"volume_title"`
	MokuroVersion string `json:"mokuro_version"`

	PageCount      int   `json:"page_count"`
	CharacterCount int   `json:"character_count"`
	PageCharCounts []int `json:"page_char_counts"`

	Thumbnail       []byte `json:"thumbnail,omitempty"`
	ThumbnailWidth  int    `json:"thumbnail_width"`
	ThumbnailHeight int    `json:"thumbnail_height"`

	MissingPagePaths []string `json:"missing_page_paths,omitempty"`

	// Optional cloud-shadow attributes, present iff placeholder or cloud-backed.
	IsPlaceholder        bool   `json:"is_placeholder,omitempty"`
	CloudProvider        string `json:"cloud_provider,omitempty"`
	CloudFileID          string `json:"cloud_file_id,omitempty"`
	CloudModifiedTime    time.Time `json:"cloud_modified_time,omitempty"`
	CloudSize            int64  `json:"cloud_size,omitempty"`
	CloudPath            string `json:"cloud_path,omitempty"`
	CloudThumbnailFileID string `json:"cloud_thumbnail_file_id,omitempty"`
	LibraryID            string `json:"library_id,omitempty"`
}

// IsImageOnly reports mokuro_version === ''.
func (v *Volume) IsImageOnly() bool { return v.MokuroVersion == "" }

// IsCloudBacked reports whether the volume carries any cloud-shadow
// attribute, i.e. it is a placeholder or has a known remote counterpart.
func (v *Volume) IsCloudBacked() bool {
	return v.IsPlaceholder || v.CloudProvider != "" || v.CloudFileID != ""
}

// Clone returns a deep-enough copy for callers that must not alias slice
// fields with a stored row; the reconciler never aliases stored rows.
func (v *Volume) Clone() *Volume {
	cp := *v
	if v.PageCharCounts != nil {
		cp.PageCharCounts = append([]int(nil), v.PageCharCounts...)
	}
	if v.MissingPagePaths != nil {
		cp.MissingPagePaths = append([]string(nil), v.MissingPagePaths...)
	}
	if v.Thumbnail != nil {
		cp.Thumbnail = append([]byte(nil), v.Thumbnail...)
	}
	return &cp
}

// Block is one OCR text block.
type Block struct {
	Box      [4]float64 `json:"box"` // xmin, ymin, xmax, ymax
	Vertical bool       `json:"vertical"`
	FontSize float64    `json:"font_size"`
	Lines    []string   `json:"lines"`
}

// Page is one OCR page.
type Page struct {
	ImgPath   string  `json:"img_path"`
	ImgWidth  int     `json:"img_width"`
	ImgHeight int     `json:"img_height"`
	Blocks    []Block `json:"blocks"`
}

// VolumeOCR is the one-row-per-volume OCR table. Edits never
// mutate Pages destructively; they land in EditedPages so the original is
// always recoverable.
type VolumeOCR struct {
	VolumeUUID   string `json:"volume_uuid"`
	Pages        []Page `json:"pages"`
	EditedPages  []Page `json:"edited_pages,omitempty"`
}

// VolumeFiles is the lazily-loaded pagePath -> blob row.
type VolumeFiles struct {
	VolumeUUID string
	Pages      map[string][]byte
}

// ViewerSettings are the per-volume reader preferences embedded in stats.
type ViewerSettings struct {
	SinglePage bool `json:"single_page"`
	RightToLeft bool `json:"right_to_left"`
	HasCover   bool `json:"has_cover"`
}

// PageTurnEvent is one bounded-window recent page-turn timestamp entry.
type PageTurnEvent struct {
	Page int       `json:"page"`
	At   time.Time `json:"at"`
}

// SessionSummary is one aggregate reading-session summary entry.
type SessionSummary struct {
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	CharactersRead int           `json:"characters_read"`
	Duration       time.Duration `json:"duration"`
}

// VolumeStats is the per-volume key/value reading-progress row.
type VolumeStats struct {
	VolumeUUID       string           `json:"volume_uuid"`
	CurrentPage      int              `json:"current_page"`
	CharactersRead   int              `json:"characters_read"`
	MinutesRead      float64          `json:"minutes_read"`
	Completed        bool             `json:"completed"`
	RecentPageTurns  []PageTurnEvent  `json:"recent_page_turns,omitempty"`
	SessionSummaries []SessionSummary `json:"session_summaries,omitempty"`
	LastUpdate       time.Time        `json:"last_update"`
	Viewer           ViewerSettings   `json:"viewer"`
}

// Profile is a named bag of UI/integration settings.
type Profile struct {
	Name      string                 `json:"name"`
	IsCurrent bool                   `json:"is_current"`
	Settings  map[string]interface{} `json:"settings"`
}

// RemoteFileMetadata describes one remote object.
type RemoteFileMetadata struct {
	Provider     string    `json:"provider"`
	FileID       string    `json:"file_id"`
	Path         string    `json:"path"`
	ModifiedTime time.Time `json:"modified_time"`
	Size         int64     `json:"size"`
	Description  string    `json:"description,omitempty"`
}

// LibraryConfig is a read-only WebDAV-style source.
type LibraryConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ServerURL   string    `json:"server_url"`
	BasePath    string    `json:"base_path"`
	Username    string    `json:"username"`
	Password    string    `json:"password"` // encrypted at rest, see store/crypt.go
	LastFetched time.Time `json:"last_fetched"`
}

// NewPlaceholder fabricates an in-memory placeholder row; it is never written to disk as-is.
func NewPlaceholder(seriesUUID, seriesTitle, volumeUUID, volumeTitle, provider, fileID, cloudPath string, modTime time.Time, size int64) *Volume {
	return &Volume{
		VolumeUUID:    volumeUUID,
		SeriesUUID:    seriesUUID,
		SeriesTitle:   seriesTitle,
		VolumeTitle:   volumeTitle,
		MokuroVersion: "",
		IsPlaceholder: true,
		CloudProvider: provider,
		CloudFileID:   fileID,
		CloudPath:     cloudPath,
		CloudModifiedTime: modTime,
		CloudSize:     size,
	}
}
