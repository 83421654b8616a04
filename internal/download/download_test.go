package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/coursefs/internal/catalog"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestStartLoadingFetchesAndCaches(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("file-1", filepath.Join(dir, "file-1"), srv.Client(), discardLog(), nil)

	err := d.StartLoading(context.Background(), catalog.DownloadHandle{
		URL: srv.URL, ExpectedSize: 4, HasSize: true,
	})
	require.NoError(t, err)
	require.Equal(t, Done, d.State())
	require.EqualValues(t, 1, atomic.LoadInt32(&gets))

	require.NoError(t, d.AwaitReadable(context.Background(), 0, 4))
}

func TestStartLoadingCoalescesConcurrentOpeners(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "4")
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("file-1", filepath.Join(dir, "file-1"), srv.Client(), discardLog(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.StartLoading(context.Background(), catalog.DownloadHandle{
				URL: srv.URL, ExpectedSize: 4, HasSize: true,
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.EqualValues(t, 1, atomic.LoadInt32(&gets))
}

func TestSizeMismatchFailsAsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "99")
			return
		}
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("file-1", filepath.Join(dir, "file-1"), srv.Client(), discardLog(), nil)

	err := d.StartLoading(context.Background(), catalog.DownloadHandle{
		URL: srv.URL, ExpectedSize: 4, HasSize: true,
	})
	require.Error(t, err)
	require.Equal(t, Failed, d.State())
}

func TestInvalidateAllowsRetryAfterFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ABCD"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("file-1", filepath.Join(dir, "file-1"), srv.Client(), discardLog(), nil)

	err := d.StartLoading(context.Background(), catalog.DownloadHandle{URL: srv.URL})
	require.Error(t, err)
	require.Equal(t, Failed, d.State())

	d.Invalidate()
	require.Equal(t, Empty, d.State())

	err = d.StartLoading(context.Background(), catalog.DownloadHandle{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, Done, d.State())
}

func TestStartLoadingFetchesRangesConcurrently(t *testing.T) {
	oldChunk := chunkSize
	chunkSize = 4
	defer func() { chunkSize = oldChunk }()

	const payload = "ABCDEFGHIJKL" // 12 bytes -> 3 ranges of 4 bytes each
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		atomic.AddInt32(&gets, 1)
		rng := r.Header.Get("Range")
		require.NotEmpty(t, rng)
		var start, end int
		_, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		require.NoError(t, err)
		if end >= len(payload) {
			end = len(payload) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(payload[start : end+1]))
	}))
	defer srv.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "file-1")
	d := newDownload("file-1", localPath, srv.Client(), discardLog(), nil)

	err := d.StartLoading(context.Background(), catalog.DownloadHandle{
		URL: srv.URL, ExpectedSize: int64(len(payload)), HasSize: true,
	})
	require.NoError(t, err)
	require.Equal(t, Done, d.State())
	require.EqualValues(t, 3, atomic.LoadInt32(&gets))

	got, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, payload, string(got))
}

// roundTripFunc lets a test stand in as an http.RoundTripper without a real
// server, so it can fabricate a response with ContentLength unset (-1) the
// way a net/http server of real HEAD responses never does for an empty body.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestValidateHeadersFallsBackToContentRange(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodHead, r.Method)
		header := http.Header{}
		header.Set("Content-Range", "bytes 0-3/4")
		header.Set("Accept-Ranges", "bytes")
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: -1,
			Header:        header,
			Body:          io.NopCloser(strings.NewReader("")),
		}, nil
	})}

	d := newDownload("file-1", filepath.Join(t.TempDir(), "file-1"), client, discardLog(), nil)
	total, accept, err := d.validateHeaders(context.Background(), "http://example.invalid/file")
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.True(t, accept)
}

func TestCacheGetReturnsSharedHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), srv.Client(), discardLog(), nil)
	d1, err := c.Get("abc")
	require.NoError(t, err)
	d2, err := c.Get("abc")
	require.NoError(t, err)
	require.Same(t, d1, d2)
	require.Equal(t, 1, c.Len())
}
