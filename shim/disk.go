package shim

// DiskReport is one local drive's usage/throughput snapshot, the local
// counterpart of a provider's remote storage quota so the same progress
// and snackbar surfaces can warn on local disk pressure, not just remote
// quota.
type DiskReport struct {
	Device       string
	SizeBytes    int64
	ReadBytes    int64
	WrittenBytes int64
}

// LocalDiskReport returns a snapshot for every local drive the platform
// exposes. Platforms without a wired collector return an empty slice and
// no error, so callers never need a build-tag of their own.
func LocalDiskReport() ([]DiskReport, error) {
	return readDriveStats()
}
