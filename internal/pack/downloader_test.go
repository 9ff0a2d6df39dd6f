package pack_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalSened/RoamWise-sub002/internal/pack"
)

type staticTokens string

func (s staticTokens) Token() (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token() (string, error) { return "", errors.New("keystore locked") }

func packageBytes(t *testing.T) []byte {
	t.Helper()

	data, err := pack.EncodePayload(validPackage(t))
	require.NoError(t, err)
	return data
}

func TestHTTPDownloader_Success(t *testing.T) {
	payload := packageBytes(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/packages/monte-rosa-7", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("bbox"))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL: server.URL,
		Tokens:  staticTokens("test-token"),
	})

	bbox := pack.BoundingBox{MinLat: 45.98, MinLon: 7.97, MaxLat: 46.03, MaxLon: 8.03}
	pkg, err := d.DownloadPackage(context.Background(), "monte-rosa-7", bbox)
	require.NoError(t, err)

	assert.Equal(t, "monte-rosa-7", pkg.ID)
	require.NotNil(t, pkg.Trail)
	assert.Greater(t, pkg.Trail.TotalDistanceMeters, 1000.0)
	assert.Equal(t, int64(2048), pkg.SizeBytes, "declared payload size wins")
	assert.InDelta(t, 1.0, d.Progress(), 1e-9)
}

func TestHTTPDownloader_ChunkedBodyCompletesProgress(t *testing.T) {
	payload := packageBytes(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		half := len(payload) / 2
		_, _ = w.Write(payload[:half])
		w.(http.Flusher).Flush()
		_, _ = w.Write(payload[half:])
	}))
	defer server.Close()

	d := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})

	pkg, err := d.DownloadPackage(context.Background(), "monte-rosa-7", pack.BoundingBox{})
	require.NoError(t, err)
	require.NotNil(t, pkg.Trail)
	assert.InDelta(t, 1.0, d.Progress(), 1e-9, "unknown length resolves to done on completion")
}

func TestHTTPDownloader_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCode  string
		retryable bool
	}{
		{"not found", http.StatusNotFound, pack.ErrPackageNotFound, "NOT_FOUND", false},
		{"unauthorized", http.StatusUnauthorized, pack.ErrUnauthorized, "UNAUTHORIZED", false},
		{"forbidden", http.StatusForbidden, pack.ErrUnauthorized, "UNAUTHORIZED", false},
		{"rate limited", http.StatusTooManyRequests, pack.ErrServiceUnavailable, "RATE_LIMIT", true},
		{"server error", http.StatusBadGateway, pack.ErrServiceUnavailable, "SERVER_502", true},
		{"bad request", http.StatusBadRequest, pack.ErrPackageInvalid, "HTTP_400", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d := pack.NewHTTPDownloader(pack.DownloaderConfig{
				BaseURL:    server.URL,
				HTTPClient: server.Client(),
			})

			_, err := d.DownloadPackage(context.Background(), "monte-rosa-7", pack.BoundingBox{})
			require.ErrorIs(t, err, tt.wantErr)

			var perr *pack.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantCode, perr.Code)
			assert.Equal(t, tt.retryable, perr.IsRetryable())
		})
	}
}

func TestHTTPDownloader_TamperedPayload(t *testing.T) {
	data := packageBytes(t)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	envelope["checksum"] = "deadbeef"
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(tampered)
	}))
	defer server.Close()

	d := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})

	_, err = d.DownloadPackage(context.Background(), "monte-rosa-7", pack.BoundingBox{})
	require.ErrorIs(t, err, pack.ErrPackageInvalid)

	var perr *pack.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "BAD_PAYLOAD", perr.Code)
}

func TestHTTPDownloader_Cancel(t *testing.T) {
	payload := packageBytes(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload[:64])
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	d := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, err := d.DownloadPackage(context.Background(), "monte-rosa-7", pack.BoundingBox{})
		done <- result{err: err}
	}()

	require.Eventually(t, func() bool { return d.Progress() > 0 }, 2*time.Second, 10*time.Millisecond)

	d.Cancel()

	select {
	case res := <-done:
		require.Error(t, res.err)
		assert.ErrorIs(t, res.err, context.Canceled)

		var perr *pack.Error
		require.ErrorAs(t, res.err, &perr)
		assert.Equal(t, "CANCELED", perr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("download did not abort after cancel")
	}
}

func TestHTTPDownloader_TokenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := pack.NewHTTPDownloader(pack.DownloaderConfig{
		BaseURL:    server.URL,
		Tokens:     failingTokens{},
		HTTPClient: server.Client(),
	})

	_, err := d.DownloadPackage(context.Background(), "monte-rosa-7", pack.BoundingBox{})
	require.Error(t, err)

	var perr *pack.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "TOKEN", perr.Code)
}

func TestHTTPDownloader_RequiresTrailID(t *testing.T) {
	d := pack.NewHTTPDownloader(pack.DownloaderConfig{BaseURL: "http://127.0.0.1:0"})

	_, err := d.DownloadPackage(context.Background(), "", pack.BoundingBox{})
	assert.ErrorIs(t, err, pack.ErrPackageInvalid)
}
