// Package fetch retrieves calendar and address book documents over HTTP(S)
// or from the local filesystem.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/emersion/go-webdav"

	appLog "caldav2pal/internal/log"
)

// ErrFetch is returned for transport failures, unsupported URLs and
// non-success HTTP responses.
var ErrFetch = errors.New("fetch failed")

const defaultTimeout = 30 * time.Second

// Result contains the outcome of fetching a single document.
type Result struct {
	Body []byte
	// LastModified is zero when the remote did not report it.
	LastModified time.Time
	// NotModified is set when a conditional request was answered with 304;
	// Body is empty in that case.
	NotModified bool
}

// Fetcher is responsible for fetching documents. It holds no per-source
// state and can be reused across sources.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose HTTP requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves rawURL. Credentials embedded in the URL are sent as HTTP
// Basic auth. If since is non-zero, HTTP requests carry If-Modified-Since.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, since time.Time) (Result, error) {
	if rawURL == "" {
		return Result{}, fmt.Errorf("%w: source URL is empty", ErrFetch)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	switch u.Scheme {
	case "file":
		return fetchFile(u)
	case "http", "https":
		return f.fetchHTTP(ctx, u, since)
	default:
		return Result{}, fmt.Errorf("%w: unsupported URL scheme %q", ErrFetch, u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, since time.Time) (Result, error) {
	var client webdav.HTTPClient = f.client
	if u.User != nil {
		password, _ := u.User.Password()
		client = webdav.HTTPClientWithBasicAuth(f.client, u.User.Username(), password)
		stripped := *u
		stripped.User = nil
		u = &stripped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	appLog.Debug("fetch start", "url", Redact(u.String()))

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		appLog.Debug("fetch not modified", "url", Redact(u.String()))
		return Result{NotModified: true, LastModified: lastModified(resp)}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, fmt.Errorf("%w: %s", ErrFetch, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	appLog.Debug("fetch success", "url", Redact(u.String()), "status", resp.StatusCode, "bytes", len(body))
	return Result{Body: body, LastModified: lastModified(resp)}, nil
}

func fetchFile(u *url.URL) (Result, error) {
	path := u.Path
	if path == "" {
		// file:relative/path
		path = u.Opaque
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return Result{Body: body, LastModified: info.ModTime()}, nil
}

func lastModified(resp *http.Response) time.Time {
	v := resp.Header.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		appLog.Warn("ignoring unparsable Last-Modified", "value", v)
		return time.Time{}
	}
	return t
}

// Redact hides credentials and query strings of a URL for logging purposes.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(unparsable url)"
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.Redacted()
}
