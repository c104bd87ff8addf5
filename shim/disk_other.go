//go:build !darwin

package shim

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

const diskstatsPath = "/proc/diskstats"

// sectorSize is the /proc/diskstats unit: sectors are always reported in
// 512-byte units regardless of the device's physical sector size.
const sectorSize = 512

func readDriveStats() ([]DiskReport, error) {
	f, err := os.Open(diskstatsPath)
	if err != nil {
		// No procfs (or not Linux): disk telemetry is best-effort only.
		return nil, nil
	}
	defer f.Close()

	var out []DiskReport
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		name := fields[2]
		// Skip loop and ram virtual devices; partition rows (e.g. sda1) are
		// not filtered and appear alongside their whole-disk rows.
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		sectorsRead, _ := strconv.ParseInt(fields[5], 10, 64)
		sectorsWritten, _ := strconv.ParseInt(fields[9], 10, 64)
		out = append(out, DiskReport{
			Device:       name,
			ReadBytes:    sectorsRead * sectorSize,
			WrittenBytes: sectorsWritten * sectorSize,
		})
	}
	return out, scanner.Err()
}
