package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeServer serves data with full Range and HEAD support and counts
// requests.
func rangeServer(t *testing.T, data []byte, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestHTTPSourceSmallReadsShareOneRequest(t *testing.T) {
	data := testData(64 * 1024)
	var requests int32
	server := rangeServer(t, data, &requests)
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	// First small read populates the 4 KB cache.
	buf := make([]byte, 8)
	n, err := src.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, data[:8], buf)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))

	// Subsequent reads within the cache window are free.
	for i := 0; i < 100; i++ {
		_, err := src.Read(ctx, buf)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
	assert.Equal(t, uint64(1), src.Stats().Requests)
	assert.Equal(t, uint64(cacheSize), src.Stats().BytesFetched)
}

func TestHTTPSourceLargeReadBypassesCache(t *testing.T) {
	data := testData(64 * 1024)
	var requests int32
	server := rangeServer(t, data, &requests)
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	buf := make([]byte, 10000)
	n, err := ReadAt(ctx, src, 1000, buf)
	require.NoError(t, err)
	assert.Equal(t, 10000, n)
	assert.Equal(t, data[1000:11000], buf)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))

	// The large read must not have populated the cache: the next small
	// read costs another request.
	small := make([]byte, 4)
	_, err = ReadAt(ctx, src, 1000, small)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&requests))
}

func TestHTTPSourceSeeksAreFree(t *testing.T) {
	data := testData(32 * 1024)
	var requests int32
	server := rangeServer(t, data, &requests)
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := src.Seek(ctx, int64(i*100), io.SeekStart)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 0, atomic.LoadInt32(&requests))
}

func TestHTTPSourceEndRelativeSeekFetchesSize(t *testing.T) {
	data := testData(32 * 1024)
	var requests int32
	server := rangeServer(t, data, &requests)
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	pos, err := src.Seek(ctx, -100, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-100), pos)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests)) // one HEAD

	// Size is cached: another end seek costs nothing.
	_, err = src.Seek(ctx, 0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

func TestHTTPSourceStatusOKSliced(t *testing.T) {
	data := testData(2000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A server that ignores Range and always sends the whole body.
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	buf := make([]byte, 100)
	n, err := ReadAt(context.Background(), src, 500, buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[500:600], buf)
}

func TestHTTPSourceTailReadEOF(t *testing.T) {
	data := testData(1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	// Reading past the end: the server answers 416, the source reports
	// EOF.
	buf := make([]byte, 100)
	_, err := src.Seek(ctx, 5000, io.SeekStart)
	require.NoError(t, err)
	_, err = src.Read(ctx, buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHTTPSourceHeadRejectedButGetWorks(t *testing.T) {
	data := testData(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	// Plain reads still work.
	buf := make([]byte, 16)
	n, err := ReadAt(ctx, src, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, data[:16], buf[:n])

	// End-relative seeking cannot.
	_, err = src.Seek(ctx, 0, io.SeekEnd)
	assert.ErrorIs(t, err, ErrSizeUnknown)
}

func TestHTTPSourcePassThroughHeaders(t *testing.T) {
	data := testData(100)
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, WithHeaders(map[string]string{"Authorization": "Bearer abc"}))
	_, err := ReadAt(context.Background(), src, 0, make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", gotHeader)
}

func TestHTTPSourceRangeHeaderNot32BitTruncated(t *testing.T) {
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 8))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL)
	ctx := context.Background()

	const offset = int64(5) << 32 // > 4 GiB
	_, err := ReadAt(ctx, src, offset, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", offset, offset+cacheSize-1), gotRange)
}
