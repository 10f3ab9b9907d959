package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
)

const (
	// DefaultAttemptTimeout bounds a single request including the body.
	DefaultAttemptTimeout = 60 * time.Second
	// DefaultRetries is the number of retries per candidate URL.
	DefaultRetries = 2
	// DefaultInitialBackoff is the first delay between retries of one URL.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the delay between retries of one URL.
	DefaultMaxBackoff = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "crash/1.0"
)

// Downloader fetches a resource from an ordered list of candidate URLs.
type Downloader struct {
	client         *http.Client
	userAgent      string
	retries        uint
	attemptTimeout time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
}

// DownloaderOption customises a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = c }
}

// WithRetries sets the number of retries per candidate URL.
func WithRetries(n uint) DownloaderOption {
	return func(d *Downloader) { d.retries = n }
}

// WithAttemptTimeout bounds each request.
func WithAttemptTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) { d.attemptTimeout = timeout }
}

// WithBackoff sets the retry delay bounds.
func WithBackoff(initial, max time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.initialBackoff = initial
		d.maxBackoff = max
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = logging.OrNop(l) }
}

// NewDownloader creates a new downloader
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:      DefaultUserAgent,
		retries:        DefaultRetries,
		attemptTimeout: DefaultAttemptTimeout,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// probe returns a copy that neither retries nor logs, for optional
// sidecar files that are usually absent.
func (d *Downloader) probe() *Downloader {
	c := *d
	c.retries = 0
	c.logger = zap.NewNop()
	return &c
}

// statusError is a non-200 HTTP response.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d %s", e.Code, http.StatusText(e.Code))
}

// permanentStatus reports whether retrying the same URL cannot help.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// Fetch downloads the first candidate in urls that yields a payload of the
// expected content and stores it at destPath. Each candidate gets a bounded
// retry budget; a candidate that fails permanently is abandoned at once.
// When every candidate fails the error is AllMirrorsExhausted and lists the
// reason for each URL.
func (d *Downloader) Fetch(ctx context.Context, urls []string, destPath string, expect Content) (*FetchResult, error) {
	if len(urls) == 0 {
		return nil, crasherr.New(crasherr.KindInternal, "download", "no candidate URLs", nil).WithResource(destPath)
	}

	var (
		failed []Attempt
		errs   error
	)
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := d.fetchWithRetry(ctx, url, destPath, expect)
		if err == nil {
			res.Failed = failed
			d.logger.Debug("download complete",
				zap.String("url", url),
				zap.String("dest", destPath),
				zap.Int64("size", res.Size))
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		d.logger.Warn("download candidate failed", zap.String("url", url), zap.Error(err))
		failed = append(failed, Attempt{URL: url, Err: err})
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", url, err))
	}

	return nil, crasherr.New(crasherr.KindAllMirrorsExhausted, "download",
		fmt.Sprintf("all %d candidate URLs failed", len(urls)), errs).
		WithResource(filepath.Base(destPath)).
		WithContext("attempts", len(failed))
}

// fetchWithRetry retries one URL with exponential backoff.
func (d *Downloader) fetchWithRetry(ctx context.Context, url, destPath string, expect Content) (*FetchResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialBackoff
	b.MaxInterval = d.maxBackoff

	op := func() (*FetchResult, error) {
		res, err := d.downloadOnce(ctx, url, destPath, expect)
		if err == nil {
			return res, nil
		}
		var se *statusError
		if errors.As(err, &se) && permanentStatus(se.Code) {
			return nil, backoff.Permanent(err)
		}
		var ce *contentError
		if errors.As(err, &ce) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("retrying download", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.retries+1),
		backoff.WithNotify(notify))
}

// contentError is a payload that does not match the expected content.
type contentError struct {
	err error
}

func (e *contentError) Error() string { return e.err.Error() }
func (e *contentError) Unwrap() error { return e.err }

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string, expect Content) (*FetchResult, error) {
	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create dest dir: %w", err))
	}

	tmpPath := destPath + ".part"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmpFile, hasher), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("copy response body: %w", err)
	}

	if want := resp.ContentLength; want >= 0 && size != want {
		return nil, fmt.Errorf("truncated body: got %d of %d bytes", size, want)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := checkFileContent(tmpPath, expect); err != nil {
		return nil, &contentError{err: err}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("rename temp file: %w", err))
	}
	cleanupNeeded = false

	return &FetchResult{
		URL:          url,
		Path:         destPath,
		Size:         size,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
