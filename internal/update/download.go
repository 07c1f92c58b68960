package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	appErrors "deltaup/internal/errors"
)

// Fetcher downloads update packages.
type Fetcher struct {
	httpClient *http.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherHTTPClient sets a custom HTTP client for the fetcher.
func WithFetcherHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = client
	}
}

// NewFetcher creates a Fetcher. Downloads have no timeout by default;
// cancel the context to abandon one.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: 0, // No timeout for downloads
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch streams url into dest, reporting progress to sink. When the server
// sends no Content-Length only the final 100 is reported. Failures carry
// CodeFetch and leave no partial file behind.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, sink ProgressSink) error {
	if sink == nil {
		sink = ProgressFunc(func(int) {})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchError(url, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fetchError(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fetchError(url, fmt.Errorf("status %d", resp.StatusCode))
	}

	//nolint:gosec // G301: staging root is owned by the updater
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fetchError(url, fmt.Errorf("create download directory: %w", err))
	}
	//nolint:gosec // G304: dest is built from the configured staging root
	out, err := os.Create(dest)
	if err != nil {
		return fetchError(url, fmt.Errorf("create %s: %w", dest, err))
	}

	pr := &progressReader{r: resp.Body, total: resp.ContentLength, sink: sink, last: -1}
	if _, err := io.Copy(out, pr); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fetchError(url, fmt.Errorf("download: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fetchError(url, fmt.Errorf("close %s: %w", dest, err))
	}
	pr.report(100)
	return nil
}

// progressReader reports the share of total read so far. Percentages are
// clamped to [0,100] and only emitted when they grow.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	sink  ProgressSink
	last  int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}

func (p *progressReader) report(percent int) {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	if percent <= p.last {
		return
	}
	p.last = percent
	p.sink.OnPercent(percent)
}

func fetchError(url string, err error) error {
	return appErrors.New(appErrors.CodeFetch, fmt.Sprintf("fetch %s: %v", url, err), err)
}
