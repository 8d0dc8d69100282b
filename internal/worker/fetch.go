package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	_ "image/png" // dimension probing of worker output

	"github.com/cenkalti/backoff/v4"

	"github.com/zimagehq/zimage/internal/domain"
)

// Fetcher downloads source-image bytes from an internal object-store URL.
type Fetcher interface {
	Fetch(ctx domain.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches over plain HTTP with bounded exponential backoff; the
// object store occasionally drops the first connection right after a bucket
// event.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher with a 30s per-request timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads url fully into memory.
func (f *HTTPFetcher) Fetch(ctx domain.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrNotFound, url))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("op=worker.fetch: %w", err)
	}
	return body, nil
}

// pngDimensions probes the decoded dimensions of img, falling back to the
// requested width/height when the bytes are not decodable.
func pngDimensions(img []byte, fallbackW, fallbackH int) (int, int) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		return cfg.Width, cfg.Height
	}
	return fallbackW, fallbackH
}

func contextWithTimeout(ctx domain.Context, d time.Duration) (domain.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
