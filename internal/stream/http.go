package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mp4probe/internal/logger"
)

// cacheSize is the capacity of the range cache. Reads at or below this size
// fetch a full cache line so that the header-hopping access pattern of the
// box walker costs one request per neighborhood instead of one per read.
const cacheSize = 4096

// DefaultRequestTimeout bounds each individual HTTP request.
const DefaultRequestTimeout = 30 * time.Second

// HTTPSource reads a remote file through range requests. It keeps a virtual
// cursor so that seeking is free: only Read and Size touch the network.
type HTTPSource struct {
	url     string
	client  *http.Client
	headers map[string]string
	log     logger.Logger

	pos    int64
	length int64 // -1 until learned
	stats  Stats

	cache    []byte
	cacheOff int64
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHeaders sets pass-through headers added to every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(s *HTTPSource) { s.headers = h }
}

// WithClient replaces the HTTP client, e.g. to change the request timeout.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l logger.Logger) HTTPOption {
	return func(s *HTTPSource) { s.log = l }
}

// NewHTTPSource creates a source for url. No request is made until the
// first Read, Size, or end-relative Seek.
func NewHTTPSource(url string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
		log:    logger.Nop{},
		length: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read implements Source. Reads that fit in the cache window are served
// without network traffic; larger reads bypass the cache entirely.
func (s *HTTPSource) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Entirely inside the cache window: no traffic.
	if s.cache != nil && s.pos >= s.cacheOff && s.pos+int64(len(p)) <= s.cacheOff+int64(len(s.cache)) {
		n := copy(p, s.cache[s.pos-s.cacheOff:])
		s.pos += int64(n)
		return n, nil
	}

	if len(p) > cacheSize {
		// Large read: fetch exactly what was asked for, leave the cache
		// alone.
		n, err := s.fetchRange(ctx, s.pos, p)
		s.pos += int64(n)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}

	// Small read: refill the cache at the cursor and serve from it.
	line := make([]byte, cacheSize)
	n, err := s.fetchRange(ctx, s.pos, line)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	s.cache = line[:n]
	s.cacheOff = s.pos

	served := copy(p, s.cache)
	s.pos += int64(served)
	return served, nil
}

// Seek implements Source. It only moves the virtual cursor; end-relative
// seeks learn the content length first.
func (s *HTTPSource) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = s.pos + offset
	case io.SeekEnd:
		size, err := s.Size(ctx)
		if err != nil {
			return 0, fmt.Errorf("end-relative seek: %w", err)
		}
		next = size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	s.pos = next
	return next, nil
}

// Size implements Source via a HEAD request, cached after the first call.
func (s *HTTPSource) Size(ctx context.Context) (int64, error) {
	if s.length >= 0 {
		return s.length, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	s.stats.Requests++

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HEAD %s: status %d: %w", s.url, resp.StatusCode, ErrSizeUnknown)
	}

	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, fmt.Errorf("HEAD %s: no Content-Length header: %w", s.url, ErrSizeUnknown)
	}
	length, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || length < 0 {
		return 0, fmt.Errorf("HEAD %s: bad Content-Length %q: %w", s.url, cl, ErrSizeUnknown)
	}

	s.length = length
	return length, nil
}

// Stats implements Source.
func (s *HTTPSource) Stats() Stats { return s.stats }

// Close implements Source.
func (s *HTTPSource) Close() error { return nil }

// LogStats writes the transfer counters through the configured logger.
func (s *HTTPSource) LogStats() {
	s.log.Infof("http source: %d requests, %d bytes fetched", s.stats.Requests, s.stats.BytesFetched)
}

func (s *HTTPSource) applyHeaders(req *http.Request) {
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
}

// fetchRange issues one GET with a Range header for up to len(p) bytes at
// off and fills p with what came back. A 416 reads as EOF (0 bytes). A 200
// means the server ignored the Range header; the body is sliced instead.
func (s *HTTPSource) fetchRange(ctx context.Context, off int64, p []byte) (int, error) {
	want := int64(len(p))

	// Clamp against a known length so the far end stays inside the file.
	if s.length >= 0 {
		if off >= s.length {
			return 0, nil
		}
		if off+want > s.length {
			want = s.length - off
		}
	}
	if want == 0 {
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range request: %w", err)
	}
	s.applyHeaders(req)
	end := uint64(off) + uint64(want) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", uint64(off), end))

	s.log.Debugf("GET %s bytes=%d-%d", s.url, off, end)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	s.stats.Requests++

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return 0, nil
	case resp.StatusCode == http.StatusPartialContent:
		// Expected.
	case resp.StatusCode == http.StatusOK:
		// Full body; skip to the requested offset.
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			if err == io.EOF {
				return 0, nil
			}
			return 0, fmt.Errorf("GET %s: failed to skip to offset %d: %w", s.url, off, err)
		}
	default:
		return 0, fmt.Errorf("GET %s: unexpected status %d", s.url, resp.StatusCode)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	s.stats.BytesFetched += uint64(n)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, fmt.Errorf("GET %s: failed to read body: %w", s.url, err)
	}
	return n, nil
}
