package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
)

func fastDownloader(retries uint) *Downloader {
	return NewDownloader(
		WithRetries(retries),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		WithAttemptTimeout(5*time.Second),
	)
}

func TestFetchFallsBackInOrder(t *testing.T) {
	archive := buildTarGz(t, []tarFile{{Name: "a.txt", Body: []byte("a")}})

	var badHits, goodHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			badHits.Add(1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case "/good":
			goodHits.Add(1)
			_, _ = w.Write(archive)
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.tar.gz")
	res, err := fastDownloader(1).Fetch(context.Background(),
		[]string{srv.URL + "/bad", srv.URL + "/good"}, dest, ContentArchive)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/good", res.URL)
	assert.Equal(t, int64(len(archive)), res.Size)
	assert.Len(t, res.SHA256, 64)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, srv.URL+"/bad", res.Failed[0].URL)

	// One initial attempt plus one retry on the failing mirror.
	assert.Equal(t, int32(2), badHits.Load())
	assert.Equal(t, int32(1), goodHits.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, archive, data)
	assert.NoFileExists(t, dest+".part")
}

func TestFetchDoesNotRetryPermanentFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastDownloader(3).Fetch(context.Background(),
		[]string{srv.URL + "/missing"}, filepath.Join(t.TempDir(), "x"), ContentAny)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRejectsHTMLErrorPage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>rate limited</body></html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "core.tar.gz")
	_, err := fastDownloader(2).Fetch(context.Background(), []string{srv.URL + "/core"}, dest, ContentArchive)
	require.Error(t, err)
	assert.True(t, crasherr.IsAllMirrorsExhausted(err))
	assert.Contains(t, err.Error(), "not an archive")

	assert.Equal(t, int32(1), hits.Load(), "content mismatches are not retried")
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestFetchAllMirrorsExhaustedListsEveryURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/one", srv.URL + "/two", srv.URL + "/three"}
	_, err := fastDownloader(0).Fetch(context.Background(), urls, filepath.Join(t.TempDir(), "x"), ContentAny)
	require.Error(t, err)

	assert.Equal(t, crasherr.KindAllMirrorsExhausted, crasherr.KindOf(err))
	for _, u := range urls {
		assert.Contains(t, err.Error(), u)
	}
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastDownloader(0).Fetch(ctx, []string{srv.URL + "/a", srv.URL + "/b"}, filepath.Join(t.TempDir(), "x"), ContentAny)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchSendsUserAgent(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("proxies: []\n"))
	}))
	defer srv.Close()

	_, err := fastDownloader(0).Fetch(context.Background(), []string{srv.URL}, filepath.Join(t.TempDir(), "c.yaml"), ContentText)
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, ua.Load())
}

func TestNewDownloaderDefaults(t *testing.T) {
	d := NewDownloader()
	assert.Equal(t, 60*time.Second, d.attemptTimeout)
	assert.Equal(t, uint(DefaultRetries), d.retries)

	d = NewDownloader(WithAttemptTimeout(time.Second))
	assert.Equal(t, time.Second, d.attemptTimeout)
}

func TestFetchRequiresCandidates(t *testing.T) {
	_, err := fastDownloader(0).Fetch(context.Background(), nil, filepath.Join(t.TempDir(), "x"), ContentAny)
	assert.Equal(t, crasherr.KindInternal, crasherr.KindOf(err))
}

func TestCheckContent(t *testing.T) {
	tests := []struct {
		name    string
		head    []byte
		want    Content
		wantErr bool
	}{
		{"gzip archive", []byte{0x1f, 0x8b, 0x08}, ContentArchive, false},
		{"zip archive", []byte("PK\x03\x04rest"), ContentArchive, false},
		{"html as archive", []byte("  <html><body>"), ContentArchive, true},
		{"elf executable", elfPayload, ContentExecutable, false},
		{"pe executable", []byte("MZ\x90\x00"), ContentExecutable, false},
		{"text as executable", []byte("#!/bin/sh\n"), ContentExecutable, true},
		{"yaml text", []byte("mixed-port: 7890\n"), ContentText, false},
		{"html as text", []byte("<!doctype html>"), ContentText, true},
		{"binary as text", []byte{'a', 0, 'b'}, ContentText, true},
		{"empty payload", nil, ContentAny, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkContent(tt.head, tt.want)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
