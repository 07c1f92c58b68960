package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErrors "deltaup/internal/errors"
)

// Default configuration values.
const (
	DefaultTimeout = 10 * time.Second
	userAgent      = "deltaup"
	maxListingSize = 8 << 20
)

// Locator discovers the versions published on a file server.
type Locator struct {
	baseURL     string
	programName string
	httpClient  *http.Client
	strategy    DiscoveryStrategy
	logf        func(format string, args ...any)
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithHTTPClient sets a custom HTTP client for the locator.
func WithHTTPClient(client *http.Client) LocatorOption {
	return func(l *Locator) {
		l.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) LocatorOption {
	return func(l *Locator) {
		l.httpClient.Timeout = timeout
	}
}

// WithStrategy replaces the default HTML directory listing parser.
func WithStrategy(s DiscoveryStrategy) LocatorOption {
	return func(l *Locator) {
		l.strategy = s
	}
}

// WithLocatorLogger routes diagnostics, such as skipped versions, to logf.
func WithLocatorLogger(logf func(format string, args ...any)) LocatorOption {
	return func(l *Locator) {
		l.logf = logf
	}
}

// NewLocator creates a locator for programName's packages under baseURL.
func NewLocator(baseURL, programName string, opts ...LocatorOption) *Locator {
	l := &Locator{
		baseURL:     baseURL,
		programName: programName,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		strategy: HTMLListing{},
		logf:     func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover fetches the listing once and returns every published version,
// newest first. Duplicates are kept. Entries that are not valid versions are
// logged and skipped. Transport failures carry CodeDiscovery.
func (l *Locator) Discover(ctx context.Context) ([]string, error) {
	body, err := l.fetchListing(ctx)
	if err != nil {
		return nil, err
	}

	found, err := l.strategy.Versions(body, l.programName)
	if err != nil {
		return nil, discoveryError(l.baseURL, err)
	}

	valid := make([]string, 0, len(found))
	for _, v := range found {
		if _, err := ParseVersion(v); err != nil {
			l.logf("skipping listing entry %q: %v", v, err)
			continue
		}
		valid = append(valid, v)
	}
	return SortDescending(valid)
}

// PackageURL returns the archive location of version:
// <baseURL><name><version>/<name><version>.zip.
func (l *Locator) PackageURL(version string) string {
	name := l.programName + version
	base := l.baseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + name + "/" + name + ".zip"
}

func (l *Locator) fetchListing(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL, nil)
	if err != nil {
		return nil, discoveryError(l.baseURL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, discoveryError(l.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, discoveryError(l.baseURL, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return nil, discoveryError(l.baseURL, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func discoveryError(url string, err error) error {
	return appErrors.New(appErrors.CodeDiscovery, fmt.Sprintf("load %s: %v", url, err), err)
}
