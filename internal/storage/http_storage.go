package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxSheetBytes caps the size of a fetched sheet
const MaxSheetBytes = 50 << 20

// SheetFetcher retrieves the encoded bytes of a scanned sheet
type SheetFetcher interface {
	FetchSheet(ctx context.Context, sourceURL string) ([]byte, error)
}

// readLimited reads at most MaxSheetBytes and fails on larger bodies
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSheetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(data) > MaxSheetBytes {
		return nil, fmt.Errorf("sheet exceeds %d bytes", MaxSheetBytes)
	}
	return data, nil
}

// HTTPSheetFetcher implements SheetFetcher over HTTP(S)
type HTTPSheetFetcher struct {
	client  *http.Client
	backoff func(attempt int) time.Duration
}

// NewHTTPSheetFetcher creates an HTTP sheet fetcher
func NewHTTPSheetFetcher() *HTTPSheetFetcher {
	transport := &http.Transport{
		// Connection pooling sized for single sheet downloads
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression:     false,
		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPSheetFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,

			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
}

// FetchSheet downloads a sheet, retrying transient failures up to three times
func (h *HTTPSheetFetcher) FetchSheet(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/tiff, image/webp, image/bmp, */*")
	req.Header.Set("User-Agent", "OMR-Inspector/1.0")

	// Retry logic (3 attempts) - only retry on transient errors
	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		resp, err = h.client.Do(req)

		if err != nil {
			lastErr = err
		}

		if err == nil && resp != nil && resp.StatusCode == http.StatusOK {
			break
		}

		if err == nil && resp != nil {
			resp.Body.Close()

			// 4xx client errors are non-retryable
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				lastErr = fmt.Errorf("client error: status code %d", resp.StatusCode)
				resp = nil
				break
			}
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
			} else {
				lastErr = fmt.Errorf("unexpected status code %d", resp.StatusCode)
			}
			resp = nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.backoff(attempt)):
			}
		}
	}

	if resp == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("failed to fetch sheet after 3 attempts: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to fetch sheet after 3 attempts: unknown error")
	}
	defer resp.Body.Close()

	return readLimited(resp.Body)
}
