package catalog

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/mokuroreader/corestore/cmn/ids"
	"github.com/mokuroreader/corestore/model"
)

func localVolume(series, volume, mokuroVersion string) *model.Volume {
	return &model.Volume{
		VolumeUUID:    ids.VolumeUUID(series, volume),
		SeriesUUID:    ids.SeriesUUID(series),
		SeriesTitle:   series,
		VolumeTitle:   volume,
		MokuroVersion: mokuroVersion,
		PageCount:     20,
	}
}

func remoteArchive(series, volume string) model.RemoteFileMetadata {
	return model.RemoteFileMetadata{
		Provider:     "google-drive",
		FileID:       "fid-" + series + "-" + volume,
		Path:         series + "/" + volume + ".cbz",
		ModifiedTime: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Size:         1 << 20,
	}
}

func remoteSidecar(series, volume string) model.RemoteFileMetadata {
	return model.RemoteFileMetadata{
		Provider: "google-drive",
		FileID:   "fid-mokuro-" + volume,
		Path:     series + "/" + volume + ".mokuro",
	}
}

var _ = Describe("Reconcile", func() {
	It("fabricates zero placeholders when local and remote agree", func() {
		locals := []*model.Volume{localVolume("One_Piece", "Volume_01", "0.1.8")}
		remote := []model.RemoteFileMetadata{remoteArchive("One_Piece", "Volume_01")}
		res := Reconcile("google-drive", locals, remote)
		Expect(res.Volumes).To(HaveLen(1))
		Expect(res.Volumes[0].IsPlaceholder).To(BeFalse())
	})

	It("fabricates exactly |P| placeholders for remote-only archives", func() {
		locals := []*model.Volume{localVolume("One_Piece", "Volume_01", "0.1.8")}
		remote := []model.RemoteFileMetadata{
			remoteArchive("One_Piece", "Volume_01"),
			remoteArchive("One_Piece", "Volume_02"),
			remoteArchive("Naruto", "Volume_05"),
		}
		res := Reconcile("google-drive", locals, remote)
		Expect(res.Volumes).To(HaveLen(3))
		var placeholders int
		for _, v := range res.Volumes {
			if v.IsPlaceholder {
				placeholders++
				Expect(v.PageCount).To(BeZero())
				Expect(v.CloudProvider).To(Equal("google-drive"))
				Expect(v.CloudFileID).NotTo(BeEmpty())
			}
		}
		Expect(placeholders).To(Equal(2))
	})

	It("matches local paths case-insensitively", func() {
		locals := []*model.Volume{localVolume("One_Piece", "Volume_01", "")}
		remote := []model.RemoteFileMetadata{remoteArchive("ONE_PIECE", "VOLUME_01")}
		res := Reconcile("google-drive", locals, remote)
		Expect(res.Volumes).To(HaveLen(1), "no placeholder for a case-variant path")
	})

	It("gives placeholders deterministic uuids", func() {
		remote := []model.RemoteFileMetadata{remoteArchive("Naruto", "Volume_05")}
		res := Reconcile("google-drive", nil, remote)
		Expect(res.Volumes).To(HaveLen(1))
		ph := res.Volumes[0]
		Expect(ph.VolumeUUID).To(Equal(ids.VolumeUUID("Naruto", "Volume_05")))
		Expect(ph.SeriesUUID).To(Equal(ids.SeriesUUID("Naruto")))
	})

	It("attaches a thumbnail sidecar fileId when the stem matches", func() {
		remote := []model.RemoteFileMetadata{
			remoteArchive("Naruto", "Volume_05"),
			{Provider: "google-drive", FileID: "thumb-5", Path: "Naruto/Volume_05.webp"},
		}
		res := Reconcile("google-drive", nil, remote)
		Expect(res.Volumes[0].CloudThumbnailFileID).To(Equal("thumb-5"))
	})

	It("honours a Series: description tag", func() {
		arc := remoteArchive("古い漢字", "Vol1")
		arc.Description = "Series: Modern Title"
		res := Reconcile("google-drive", nil, []model.RemoteFileMetadata{arc})
		Expect(res.Volumes).To(HaveLen(1))
		ph := res.Volumes[0]
		Expect(ph.SeriesTitle).To(Equal("Modern Title"))
		Expect(ph.SeriesUUID).To(Equal(ids.SeriesUUID("Modern Title")))
	})

	It("stamps the library id on placeholders from a library source", func() {
		res := Reconcile("library:lib-1", nil, []model.RemoteFileMetadata{remoteArchive("S", "V")})
		Expect(res.Volumes[0].LibraryID).To(Equal("lib-1"))
	})

	Describe("auto-upgrade matching", func() {
		It("flags an image-only local with an exact path match and a sidecar", func() {
			locals := []*model.Volume{localVolume("One_Piece", "Volume_02", "")}
			remote := []model.RemoteFileMetadata{
				remoteArchive("One_Piece", "Volume_02"),
				remoteSidecar("One_Piece", "Volume_02"),
			}
			res := Reconcile("google-drive", locals, remote)
			Expect(res.UpgradeCandidates).To(HaveLen(1))
			c := res.UpgradeCandidates[0]
			Expect(c.Local.VolumeUUID).To(Equal(locals[0].VolumeUUID))
			Expect(c.SidecarFileID).To(Equal("fid-mokuro-Volume_02"))
		})

		It("does not flag a local that already has OCR", func() {
			locals := []*model.Volume{localVolume("One_Piece", "Volume_01", "0.1.8")}
			remote := []model.RemoteFileMetadata{
				remoteArchive("One_Piece", "Volume_01"),
				remoteSidecar("One_Piece", "Volume_01"),
			}
			res := Reconcile("google-drive", locals, remote)
			Expect(res.UpgradeCandidates).To(BeEmpty())
		})

		It("falls back to a unique (series, volume) title match", func() {
			// The remote lives in a folder named differently than the
			// local series (a Series: tag renames it), so there is no
			// exact path match — only the title fallback can connect them.
			local := localVolume("One Piece", "Volume 03", "")
			arc := remoteArchive("Old_Folder", "Volume 03")
			arc.Description = "Series: One Piece"
			sc := remoteSidecar("Old_Folder", "Volume 03")
			res := Reconcile("google-drive", []*model.Volume{local}, []model.RemoteFileMetadata{arc, sc})
			Expect(res.UpgradeCandidates).To(HaveLen(1))
			Expect(res.UpgradeCandidates[0].Local).To(Equal(local))
		})

		It("skips the fallback when multiple image-only candidates exist", func() {
			// Two image-only locals whose titles fold to the same key; the
			// remote path matches neither, so the fallback sees both and
			// must refuse to guess.
			a := localVolume("Dup", "Vol 9", "")
			b := localVolume("dup", "vol 9", "")
			arc := remoteArchive("Folder_X", "Vol 9")
			arc.Description = "Series: Dup"
			sc := remoteSidecar("Folder_X", "Vol 9")
			res := Reconcile("google-drive", []*model.Volume{a, b}, []model.RemoteFileMetadata{arc, sc})
			Expect(res.UpgradeCandidates).To(BeEmpty(), "ambiguity is never guessed")
		})

		It("never aliases local slice fields in its output", func() {
			local := localVolume("S", "V", "0.1.8")
			local.PageCharCounts = []int{1, 2, 3}
			res := Reconcile("google-drive", []*model.Volume{local}, nil)
			Expect(res.Volumes).To(HaveLen(1))
			res.Volumes[0].PageCharCounts[0] = 99
			Expect(local.PageCharCounts[0]).To(Equal(1))
		})
	})
})

var _ = Describe("GroupBySeries", func() {
	It("groups by series uuid and sorts naturally", func() {
		vols := []*model.Volume{
			localVolume("One_Piece", "Volume_10", ""),
			localVolume("One_Piece", "Volume_2", ""),
			localVolume("Akira", "Volume_1", ""),
		}
		series := GroupBySeries(vols)
		Expect(series).To(HaveLen(2))
		Expect(series[0].SeriesTitle).To(Equal("Akira"))
		Expect(series[1].SeriesTitle).To(Equal("One_Piece"))
		Expect(series[1].Volumes[0].VolumeTitle).To(Equal("Volume_2"))
		Expect(series[1].Volumes[1].VolumeTitle).To(Equal("Volume_10"))
	})

	It("prefers the first local's series title over a placeholder's", func() {
		ph := localVolume("one_piece", "Volume_01", "")
		ph.IsPlaceholder = true
		ph.SeriesUUID = ids.SeriesUUID("One_Piece") // same series, remote casing
		local := localVolume("One_Piece", "Volume_02", "")
		series := GroupBySeries([]*model.Volume{ph, local})
		Expect(series).To(HaveLen(1))
		Expect(series[0].SeriesTitle).To(Equal("One_Piece"))
	})
})
