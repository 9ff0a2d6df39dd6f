package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/resilience"
)

// DefaultDownloadTimeout bounds one package download attempt end to end.
const DefaultDownloadTimeout = 2 * time.Minute

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies bearer tokens for the pack service.
type TokenSource interface {
	Token() (string, error)
}

// DownloaderConfig holds configuration for the HTTP package downloader.
type DownloaderConfig struct {
	// BaseURL is the pack service base URL (required).
	BaseURL string

	// Tokens mints device bearer tokens. When nil, requests go out
	// unauthenticated (local test services).
	Tokens TokenSource

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with download defaults.
	HTTPClient HTTPDoer

	// Timeout is the per-download timeout (optional).
	Timeout time.Duration

	// Logger for downloader operations.
	Logger zerolog.Logger
}

// HTTPDownloader fetches trail packages from the pack service over HTTP.
// One download runs at a time; Progress and Cancel act on the current one.
type HTTPDownloader struct {
	baseURL    string
	tokens     TokenSource
	httpClient HTTPDoer
	logger     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	bytesRead  atomic.Int64
	totalBytes atomic.Int64
}

// NewHTTPDownloader creates a new pack service downloader.
func NewHTTPDownloader(cfg DownloaderConfig) *HTTPDownloader {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultDownloadTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultConfig("pack-service")
		clientCfg.Timeout = timeout
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.New(clientCfg)
	}

	return &HTTPDownloader{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "pack-downloader").Logger(),
	}
}

// DownloadPackage fetches and decodes the package for a trail.
func (d *HTTPDownloader) DownloadPackage(ctx context.Context, trailID string, bbox BoundingBox) (*TrailPackage, error) {
	if trailID == "" {
		return nil, &Error{
			Op:      "download",
			Code:    "NO_TRAIL_ID",
			Message: "trail id is required",
			Err:     ErrPackageInvalid,
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
	}()

	d.bytesRead.Store(0)
	d.totalBytes.Store(0)

	reqURL := fmt.Sprintf("%s/v1/packages/%s?bbox=%s", d.baseURL, url.PathEscape(trailID), formatBBox(bbox))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if d.tokens != nil {
		token, err := d.tokens.Token()
		if err != nil {
			return nil, &Error{
				Op:      "download",
				Code:    "TOKEN",
				Message: "minting device token",
				Err:     err,
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	d.logger.Debug().
		Str("trail_id", trailID).
		Msg("requesting trail package")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if canceled(ctx, err) {
			return nil, &Error{
				Op:      "download",
				Code:    "CANCELED",
				Message: "package download canceled",
				Err:     context.Canceled,
			}
		}
		return nil, &Error{
			Op:      "download",
			Code:    "REQUEST_FAILED",
			Message: "failed to reach pack service",
			Err:     ErrServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.handleErrorResponse(resp.StatusCode)
	}

	d.totalBytes.Store(resp.ContentLength)

	body, err := io.ReadAll(&countingReader{r: resp.Body, n: &d.bytesRead})
	if err != nil {
		if canceled(ctx, err) {
			return nil, &Error{
				Op:      "download",
				Code:    "CANCELED",
				Message: "package download canceled",
				Err:     context.Canceled,
			}
		}
		return nil, &Error{
			Op:      "download",
			Code:    "BODY_READ",
			Message: "reading package payload",
			Err:     ErrServiceUnavailable,
		}
	}
	if resp.ContentLength <= 0 {
		d.totalBytes.Store(int64(len(body)))
	}

	pkg, err := DecodePayload(body)
	if err != nil {
		return nil, &Error{
			Op:      "download",
			Code:    "BAD_PAYLOAD",
			Message: "decoding package payload",
			Err:     err,
		}
	}

	if pkg.ID == "" {
		pkg.ID = trailID
	}
	if pkg.SizeBytes == 0 {
		pkg.SizeBytes = int64(len(body))
	}

	d.logger.Debug().
		Str("trail_id", trailID).
		Int("bytes", len(body)).
		Msg("trail package downloaded")

	return pkg, nil
}

// Progress reports download progress in [0, 1]. With no Content-Length the
// progress stays 0 until the download completes.
func (d *HTTPDownloader) Progress() float64 {
	total := d.totalBytes.Load()
	if total <= 0 {
		return 0
	}
	p := float64(d.bytesRead.Load()) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

// Cancel aborts the in-flight download, if any.
func (d *HTTPDownloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// handleErrorResponse maps pack service status codes to domain errors.
func (d *HTTPDownloader) handleErrorResponse(statusCode int) error {
	switch {
	case statusCode == http.StatusNotFound:
		return &Error{
			Op:      "download",
			Code:    "NOT_FOUND",
			Message: "no package published for this trail",
			Err:     ErrPackageNotFound,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{
			Op:      "download",
			Code:    "UNAUTHORIZED",
			Message: "pack service rejected the device token",
			Err:     ErrUnauthorized,
		}
	case statusCode == http.StatusTooManyRequests:
		return &Error{
			Op:      "download",
			Code:    "RATE_LIMIT",
			Message: "pack service rate limit exceeded, try again later",
			Err:     ErrServiceUnavailable,
		}
	case statusCode >= 500:
		return &Error{
			Op:      "download",
			Code:    fmt.Sprintf("SERVER_%d", statusCode),
			Message: "pack service is temporarily unavailable",
			Err:     ErrServiceUnavailable,
		}
	default:
		return &Error{
			Op:      "download",
			Code:    fmt.Sprintf("HTTP_%d", statusCode),
			Message: "pack service rejected the request",
			Err:     ErrPackageInvalid,
		}
	}
}

// canceled reports whether err (or the request context) is a cancellation.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

// formatBBox renders a bbox query value in GeoJSON order
// (min lon, min lat, max lon, max lat).
func formatBBox(b BoundingBox) string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// countingReader counts bytes as they stream through for progress tracking.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Ensure HTTPDownloader implements Downloader interface.
var _ Downloader = (*HTTPDownloader)(nil)
