package provider

import (
	"context"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/valyala/fasthttp"
)

// Resumable download state machine: "Probing -> Streaming ->
// (ReadStall -> Streaming)* -> Done, with parallel ErrorBackoff -> Streaming
// on retryable failures." This is the reference implementation for
// WebDAV-style providers; capability-map and key-share providers may use
// their native SDKs instead but must match the observable contract (total
// bytes delivered == file size, byte sequence preserved).
type dlState int

const (
	stateProbing dlState = iota
	stateStreaming
	stateErrorBackoff
	stateDone
)

const (
	maxErrorRetries   = 5
	maxPartialRetries = 8
	progressHz        = 15.0
)

// HTTPGetter abstracts the transport so tests can substitute a fake
// server without a real socket; the production implementation wraps
// fasthttp.Client.
type HTTPGetter interface {
	// Do issues one GET request for url with the given Range header value
	// (empty for no range) and returns status, a content-length (-1 if
	// unknown), and a body reader the caller must close.
	Do(ctx context.Context, url string, rangeHeader string) (status int, contentLength int64, body io.ReadCloser, err error)
}

// FastHTTPGetter is the production HTTPGetter backed by fasthttp. Headers
// carries per-request credentials (e.g. a worker's Authorization bearer
// from WorkerCredentials.Headers), applied to every request.
type FastHTTPGetter struct {
	Client  *fasthttp.Client
	Headers map[string]string
}

func NewFastHTTPGetter() *FastHTTPGetter {
	return &FastHTTPGetter{Client: &fasthttp.Client{}}
}

func (g *FastHTTPGetter) Do(ctx context.Context, url, rangeHeader string) (int, int64, io.ReadCloser, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	for k, v := range g.Headers {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	deadline, ok := ctx.Deadline()
	var err error
	if ok {
		err = g.Client.DoDeadline(req, resp, deadline)
	} else {
		err = g.Client.Do(req, resp)
	}
	if err != nil {
		fasthttp.ReleaseResponse(resp)
		return 0, -1, nil, err
	}

	status := resp.StatusCode()
	cl := int64(-1)
	if v := resp.Header.Peek(fasthttp.HeaderContentLength); len(v) > 0 {
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			cl = n
		}
	}
	body := resp.BodyStream()
	if body == nil {
		body = io.NopCloser(strings.NewReader(string(resp.Body())))
	}
	return status, cl, &responseCloser{body, resp}, nil
}

type responseCloser struct {
	io.Reader
	resp *fasthttp.Response
}

func (r *responseCloser) Close() error {
	fasthttp.ReleaseResponse(r.resp)
	return nil
}

// Sink receives downloaded bytes in order; an in-memory buffer satisfies
// it for small OCR sidecars, a file satisfies it for full archives.
type Sink interface {
	io.Writer
	Len() int64
}

// ResumeDownload runs the resumable state machine against url, writing
// bytes to sink in order, and reports throttled progress. The total size is
// not passed in; the first response's content length establishes it.
func ResumeDownload(ctx context.Context, getter HTTPGetter, url string, sink Sink, onProgress func(loaded, total int64)) error {
	state := stateProbing
	var total int64 = -1
	errorRetries := 0
	partialRetries := 0
	lastProgressAt := time.Time{}

	report := func(final bool) {
		now := time.Now()
		if !final && now.Sub(lastProgressAt) < time.Second/progressHz {
			return
		}
		lastProgressAt = now
		if onProgress != nil {
			onProgress(sink.Len(), total)
		}
	}
	reportThrottled := func() { report(false) }

	for state != stateDone {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		offset := sink.Len()
		rangeHdr := ""
		if offset > 0 {
			rangeHdr = "bytes=" + strconv.FormatInt(offset, 10) + "-"
		}

		status, cl, body, err := getter.Do(ctx, url, rangeHdr)
		if err != nil {
			if !advanceErrorBackoff(&errorRetries) {
				return coserrors.Wrap(coserrors.KindTransient, err, "provider: download retry budget exhausted")
			}
			if err := sleepBackoff(ctx, errorRetries); err != nil {
				return err
			}
			continue
		}

		switch {
		case status == fasthttp.StatusRequestedRangeNotSatisfiable:
			body.Close()
			if total > 0 && offset == total {
				// 416 when the current offset equals total size means
				// everything already arrived.
				state = stateDone
				continue
			}
			if !advanceErrorBackoff(&errorRetries) {
				return coserrors.New(coserrors.KindRangeConflict, "provider: 416 at unexpected offset")
			}
			continue

		case offset > 0 && status == fasthttp.StatusOK:
			// A server ignoring a range request (200 to a ranged GET)
			// restarts from zero: discard what we buffered and reset the
			// sink.
			body.Close()
			if resetter, ok := sink.(interface{ Reset() }); ok {
				resetter.Reset()
			} else {
				return coserrors.New(coserrors.KindTruncation, "provider: server ignored range and sink cannot reset")
			}
			if cl > 0 {
				total = cl
			}
			continue

		case status == fasthttp.StatusOK || status == fasthttp.StatusPartialContent:
			if total < 0 {
				if status == fasthttp.StatusOK && cl > 0 {
					total = cl
				} else if status == fasthttp.StatusPartialContent && cl > 0 {
					total = offset + cl
				}
			}
			state = stateStreaming
			n, streamErr := streamInto(sink, body, reportThrottled)
			body.Close()
			if corelog.V(4, corelog.SmoduleProvider) {
				corelog.Infof("provider: streamed %d bytes from offset %d (total=%d)", n, offset, total)
			}

			advancing := n >= maxInt64(1<<20, total/20)
			if advancing {
				errorRetries, partialRetries = 0, 0
			}

			if streamErr == nil {
				if total < 0 || sink.Len() >= total {
					state = stateDone
					continue
				}
				// short read with no error: stream stalled early, resume.
				if !advancePartialRetry(&partialRetries) {
					return coserrors.New(coserrors.KindTruncation, "provider: partial-resume retry budget exhausted")
				}
				continue
			}

			if !advancePartialRetry(&partialRetries) {
				return coserrors.Wrap(coserrors.KindTruncation, streamErr, "provider: partial-resume retry budget exhausted")
			}
			if err := sleepBackoff(ctx, partialRetries); err != nil {
				return err
			}
			continue

		default:
			body.Close()
			if !advanceErrorBackoff(&errorRetries) {
				return coserrors.New(coserrors.KindTransient, "provider: download retry budget exhausted, status "+strconv.Itoa(status))
			}
			if err := sleepBackoff(ctx, errorRetries); err != nil {
				return err
			}
		}
	}
	report(true)
	return nil
}

func streamInto(sink Sink, body io.Reader, report func()) (int64, error) {
	buf := make([]byte, 32*1024)
	var n int64
	for {
		rn, err := body.Read(buf)
		if rn > 0 {
			if _, werr := sink.Write(buf[:rn]); werr != nil {
				return n, werr
			}
			n += int64(rn)
			report()
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

func advanceErrorBackoff(n *int) bool {
	*n++
	return *n <= maxErrorRetries
}

func advancePartialRetry(n *int) bool {
	*n++
	return *n <= maxPartialRetries
}

// sleepBackoff applies capped exponential backoff with jitter, shared by
// both retry budgets.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(minInt(attempt, 6))) * 100 * time.Millisecond
	cap := 10 * time.Second
	if base > cap {
		base = cap
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	d := base/2 + jitter
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// BufferSink is an in-memory Sink for small downloads (OCR sidecars,
// thumbnails).
type BufferSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *BufferSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *BufferSink) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.buf))
}

func (s *BufferSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

func (s *BufferSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}
