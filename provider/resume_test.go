package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"

	coserrors "github.com/mokuroreader/corestore/cmn/errors"
)

// fakeGetter serves content through a scripted sequence of behaviours; once
// the script is exhausted every further request honours ranges faithfully.
type fakeGetter struct {
	content []byte
	script  []behaviour
	calls   int
}

type behaviour func(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error)

func parseOffset(rangeHeader string) int64 {
	if rangeHeader == "" {
		return 0
	}
	v := strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func (g *fakeGetter) Do(ctx context.Context, url, rangeHeader string) (int, int64, io.ReadCloser, error) {
	offset := parseOffset(rangeHeader)
	var b behaviour
	if g.calls < len(g.script) {
		b = g.script[g.calls]
	} else {
		b = serveHonest
	}
	g.calls++
	return b(g, offset)
}

// serveHonest serves the remainder from offset, 206 for ranged requests.
func serveHonest(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
	if offset > 0 && offset >= int64(len(g.content)) {
		return 416, -1, io.NopCloser(strings.NewReader("")), nil
	}
	rest := g.content[offset:]
	status := 200
	if offset > 0 {
		status = 206
	}
	return status, int64(len(rest)), io.NopCloser(bytes.NewReader(rest)), nil
}

// serveTruncated declares the full remaining length but closes after n
// bytes, simulating a mid-stream disconnect.
func serveTruncated(n int) behaviour {
	return func(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
		rest := g.content[offset:]
		status := 200
		if offset > 0 {
			status = 206
		}
		body := rest
		if len(body) > n {
			body = body[:n]
		}
		return status, int64(len(rest)), io.NopCloser(bytes.NewReader(body)), nil
	}
}

func serveTransportError(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
	return 0, -1, nil, fmt.Errorf("connection reset")
}

func serve500(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
	return 500, -1, io.NopCloser(strings.NewReader("boom")), nil
}

// serveIgnoringRange answers any request with a 200 and the whole body,
// like a server that doesn't understand Range.
func serveIgnoringRange(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
	return 200, int64(len(g.content)), io.NopCloser(bytes.NewReader(g.content)), nil
}

func testContent(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i>>8)
	}
	return out
}

// stream closes at 40% of the declared length;
// the ranged re-request delivers the remainder, and the bytes match.
func TestResumeAfterTruncation(t *testing.T) {
	content := testContent(100_000)
	g := &fakeGetter{content: content, script: []behaviour{serveTruncated(40_000)}}
	sink := &BufferSink{}
	var lastLoaded, lastTotal int64
	err := ResumeDownload(context.Background(), g, "http://x/file", sink, func(loaded, total int64) {
		lastLoaded, lastTotal = loaded, total
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Fatal("delivered bytes differ from the source")
	}
	if lastLoaded != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("final progress %d/%d", lastLoaded, lastTotal)
	}
	if g.calls < 2 {
		t.Errorf("expected a ranged re-request, got %d call(s)", g.calls)
	}
}

func TestRepeatedTruncationsStillComplete(t *testing.T) {
	content := testContent(50_000)
	g := &fakeGetter{content: content, script: []behaviour{
		serveTruncated(10_000),
		serveTruncated(10_000),
		serveTruncated(10_000),
	}}
	sink := &BufferSink{}
	if err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Fatal("byte mismatch after repeated truncations")
	}
}

// errorAfterReader yields its data, then a non-EOF error — the stream
// broke right at the end, after every byte was already delivered.
type errorAfterReader struct {
	data []byte
	off  int
}

func (r *errorAfterReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, fmt.Errorf("connection reset at eof")
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func (r *errorAfterReader) Close() error { return nil }

func serveFullThenError(g *fakeGetter, offset int64) (int, int64, io.ReadCloser, error) {
	rest := g.content[offset:]
	status := 200
	if offset > 0 {
		status = 206
	}
	return status, int64(len(rest)), &errorAfterReader{data: rest}, nil
}

func Test416AtEndOfFileIsCompletion(t *testing.T) {
	content := testContent(10_000)
	g := &fakeGetter{content: content, script: []behaviour{
		// All bytes arrive, then the stream errors: the retry re-requests
		// from offset == total and the server's 416 means "done".
		serveFullThenError,
	}}
	sink := &BufferSink{}
	if err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Fatal("incomplete or corrupt")
	}
	if g.calls != 2 {
		t.Errorf("expected exactly the initial request plus the 416 probe, got %d", g.calls)
	}
}

func TestServerIgnoringRangeRestartsFromZero(t *testing.T) {
	content := testContent(30_000)
	g := &fakeGetter{content: content, script: []behaviour{
		serveTruncated(10_000), // leaves the sink at a non-zero offset
		serveIgnoringRange,     // 200 to the ranged re-request
	}}
	sink := &BufferSink{}
	if err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Fatal("restart-from-zero produced wrong bytes")
	}
}

func TestTransientErrorsRetryWithBudget(t *testing.T) {
	content := testContent(5_000)
	g := &fakeGetter{content: content, script: []behaviour{
		serveTransportError,
		serve500,
	}}
	sink := &BufferSink{}
	if err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil); err != nil {
		t.Fatalf("two failures are within budget: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Fatal("byte mismatch")
	}
}

func TestErrorBudgetExhaustion(t *testing.T) {
	var script []behaviour
	for i := 0; i < maxErrorRetries+1; i++ {
		script = append(script, serveTransportError)
	}
	g := &fakeGetter{content: testContent(1000), script: script}
	sink := &BufferSink{}
	err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil)
	if err == nil {
		t.Fatal("expected budget exhaustion")
	}
	if !coserrors.Is(err, coserrors.KindTransient) {
		t.Errorf("error kind: %v", err)
	}
}

func TestPartialBudgetExhaustion(t *testing.T) {
	var script []behaviour
	for i := 0; i < maxPartialRetries+1; i++ {
		script = append(script, serveTruncated(0)) // never advances
	}
	g := &fakeGetter{content: testContent(1000), script: script}
	sink := &BufferSink{}
	err := ResumeDownload(context.Background(), g, "http://x/f", sink, nil)
	if err == nil {
		t.Fatal("expected partial-resume budget exhaustion")
	}
	if !coserrors.Is(err, coserrors.KindTruncation) {
		t.Errorf("error kind: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &fakeGetter{content: testContent(1000)}
	err := ResumeDownload(ctx, g, "http://x/f", &BufferSink{}, nil)
	if err == nil {
		t.Fatal("cancelled context must abort the download")
	}
}
