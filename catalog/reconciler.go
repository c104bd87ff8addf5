package catalog

import (
	"sort"
	"strings"

	"github.com/mokuroreader/corestore/cmn/cos"
	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/ingest"
	"github.com/mokuroreader/corestore/model"
)

// UpgradeCandidate is one (localImageOnlyVolume, remoteMokuroSidecar) pair
// the auto-upgrade matcher should act on.
type UpgradeCandidate struct {
	Local          *model.Volume
	SidecarFileID  string
	SidecarPath    string
	Provider       string
}

// Reconciled is the output of Reconcile: the derived catalog plus any
// upgrade work discovered along the way.
type Reconciled struct {
	Volumes           []*model.Volume // locals (real) union placeholders
	UpgradeCandidates []UpgradeCandidate
}

const (
	extArchive   = "cbz"
	extOCR       = "mokuro"
	extOCRGz     = "mokuro.gz"
	extThumbWebp = "webp"
)

// Reconcile is a pure function: merge local volumes with a
// provider's remote listing into one derived view, fabricating
// placeholders for remote-only archives and flagging auto-upgrade
// candidates. It never mutates locals or aliases their slice fields;
// the result is a freshly constructed derived view.
func Reconcile(provider string, locals []*model.Volume, remote []model.RemoteFileMetadata) Reconciled {
	archives, ocrByStem, thumbByStem := partitionRemote(remote)

	byPath := map[string]*model.Volume{}          // normalized "series/volume.cbz" -> local
	imageOnlyBySeriesVol := map[string][]*model.Volume{} // (series,volume) lower -> image-only locals
	for _, l := range locals {
		norm := ids.NormalizedPath(l.SeriesTitle + "/" + l.VolumeTitle + ".cbz")
		byPath[norm] = l
		if l.IsImageOnly() {
			key := strings.ToLower(l.SeriesTitle) + "\x00" + strings.ToLower(l.VolumeTitle)
			imageOnlyBySeriesVol[key] = append(imageOnlyBySeriesVol[key], l)
		}
	}

	seriesTitleByUUID := map[string]string{}
	for _, l := range locals {
		if _, ok := seriesTitleByUUID[l.SeriesUUID]; !ok {
			seriesTitleByUUID[l.SeriesUUID] = l.SeriesTitle
		}
	}

	var out []*model.Volume
	for _, l := range locals {
		out = append(out, l.Clone())
	}

	var candidates []UpgradeCandidate

	for stem, arc := range archives {
		norm := ids.NormalizedPath(arc.Path)
		local, hasLocal := byPath[norm]

		seriesTitle, volumeTitle := splitSeriesVolume(arc.Path)
		if override, ok := ingest.SeriesTagOverride(arc.Description); ok {
			seriesTitle = override
		}
		seriesUUID := ids.SeriesUUID(seriesTitle)
		if t, ok := seriesTitleByUUID[seriesUUID]; ok {
			seriesTitle = t
		} else {
			seriesTitleByUUID[seriesUUID] = seriesTitle
		}
		volumeUUID := ids.VolumeUUID(seriesTitle, volumeTitle)

		if !hasLocal {
			ph := model.NewPlaceholder(seriesUUID, seriesTitle, volumeUUID, volumeTitle, provider, arc.FileID, arc.Path, arc.ModifiedTime, arc.Size)
			if thumb, ok := thumbByStem[stem]; ok {
				ph.CloudThumbnailFileID = thumb.FileID
			}
			// Volumes contributed by a read-only external library carry
			// its id so downstream writes know to stay hands-off.
			if lid, ok := strings.CutPrefix(provider, "library:"); ok {
				ph.LibraryID = lid
			}
			out = append(out, ph)
		}

		sidecar, hasSidecar := ocrByStem[stem]
		if !hasSidecar {
			continue
		}

		var upgradeTarget *model.Volume
		if hasLocal && local.IsImageOnly() {
			upgradeTarget = local
		} else if !hasLocal {
			key := strings.ToLower(seriesTitle) + "\x00" + strings.ToLower(volumeTitle)
			cands := imageOnlyBySeriesVol[key]
			if len(cands) == 1 {
				upgradeTarget = cands[0]
			}
			// len==0: nothing to upgrade. len>1: ambiguous, never guess.
		}
		if upgradeTarget != nil {
			candidates = append(candidates, UpgradeCandidate{
				Local: upgradeTarget, SidecarFileID: sidecar.FileID, SidecarPath: sidecar.Path, Provider: provider,
			})
		}
	}

	return Reconciled{Volumes: out, UpgradeCandidates: candidates}
}

// partitionRemote partitions remote files by
// suffix into archives/OCR/thumbnails (others ignored), keyed by stem
// ("series/volume" without extension) so callers can join them.
func partitionRemote(remote []model.RemoteFileMetadata) (archives, ocr, thumb map[string]model.RemoteFileMetadata) {
	archives = map[string]model.RemoteFileMetadata{}
	ocr = map[string]model.RemoteFileMetadata{}
	thumb = map[string]model.RemoteFileMetadata{}
	for _, f := range remote {
		lower := strings.ToLower(f.Path)
		switch {
		case strings.HasSuffix(lower, "."+extArchive):
			archives[stemOf(f.Path, extArchive)] = f
		case strings.HasSuffix(lower, "."+extOCRGz):
			ocr[stemOf(f.Path, extOCRGz)] = f
		case strings.HasSuffix(lower, "."+extOCR):
			if _, exists := ocr[stemOf(f.Path, extOCR)]; !exists {
				ocr[stemOf(f.Path, extOCR)] = f
			}
		case strings.HasSuffix(lower, "."+extThumbWebp):
			thumb[stemOf(f.Path, extThumbWebp)] = f
		}
	}
	return
}

func stemOf(path, ext string) string {
	return ids.NormalizedPath(strings.TrimSuffix(path, "."+ext))
}

func splitSeriesVolume(path string) (series, volume string) {
	clean := strings.TrimSuffix(path, "."+extArchive)
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", cos.Stem(path)
}

// DerivedSeries is one series-level group of the catalog view.
type DerivedSeries struct {
	SeriesUUID  string
	SeriesTitle string
	Volumes     []*model.Volume
}

// GroupBySeries builds the final sorted catalog view: series grouped by
// series_uuid (canonical title from the first local, else the first
// placeholder), volumes sorted by natural-order volume_title, series
// sorted by natural-order series_title.
func GroupBySeries(volumes []*model.Volume) []DerivedSeries {
	bySeriesUUID := map[string]*DerivedSeries{}
	var order []string
	for _, v := range volumes {
		d, ok := bySeriesUUID[v.SeriesUUID]
		if !ok {
			d = &DerivedSeries{SeriesUUID: v.SeriesUUID, SeriesTitle: v.SeriesTitle}
			bySeriesUUID[v.SeriesUUID] = d
			order = append(order, v.SeriesUUID)
		} else if !v.IsPlaceholder && isPlaceholderOnly(d) {
			d.SeriesTitle = v.SeriesTitle
		}
		d.Volumes = append(d.Volumes, v)
	}

	out := make([]DerivedSeries, 0, len(order))
	for _, uuid := range order {
		d := *bySeriesUUID[uuid]
		sort.Slice(d.Volumes, func(i, j int) bool {
			return cos.NaturalLess(d.Volumes[i].VolumeTitle, d.Volumes[j].VolumeTitle)
		})
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return cos.NaturalLess(out[i].SeriesTitle, out[j].SeriesTitle) })
	return out
}

func isPlaceholderOnly(d *DerivedSeries) bool {
	for _, v := range d.Volumes {
		if !v.IsPlaceholder {
			return false
		}
	}
	return true
}
