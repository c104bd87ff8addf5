package provider

import "bytes"

// newBytesReader adapts a blob to an io.Reader for SDK upload calls that
// take a Reader (drive's Files.Create(...).Media(r), azblob's UploadStream,
// s3manager's Uploader.Upload).
func newBytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// progressWriter wraps a Sink so io.Copy reports throttled progress as it
// writes, used by providers whose native SDK download call hands back a
// plain io.Reader instead of going through ResumeDownload.
type progressWriter struct {
	sink  Sink
	onProgress func(loaded, total int64)
	total int64
}

func (w progressWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	if w.onProgress != nil {
		w.onProgress(w.sink.Len(), w.total)
	}
	return n, err
}
