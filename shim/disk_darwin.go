//go:build darwin

package shim

import (
	"github.com/lufia/iostat"
	"github.com/pkg/errors"
)

func readDriveStats() ([]DiskReport, error) {
	stats, err := iostat.ReadDriveStats()
	if err != nil {
		return nil, errors.Wrap(err, "shim: read drive stats")
	}
	out := make([]DiskReport, 0, len(stats))
	for _, s := range stats {
		out = append(out, DiskReport{
			Device:       s.Name,
			SizeBytes:    s.Size,
			ReadBytes:    s.BytesRead,
			WrittenBytes: s.BytesWritten,
		})
	}
	return out, nil
}
