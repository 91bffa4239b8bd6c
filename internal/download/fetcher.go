package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aer/internal/logging"
	"aer/internal/services"
)

const (
	defaultMaxRedirects = 10
	defaultUserAgent    = "aer/dev"
	copyBufferSize      = 256 * 1024
	// TempSuffix is appended to the final path while a transfer is in flight.
	TempSuffix = ".download"
)

// ErrTooManyRedirects reports a redirect chain longer than the configured limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// StatusError is returned for an HTTP response that is neither a success nor
// a followable redirect.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap marks server-side and rate-limit responses as transient.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return services.ErrTransient
	}
	return nil
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua = strings.TrimSpace(ua); ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxRedirects bounds the number of redirects followed per transfer.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRedirects = n
		}
	}
}

// WithHeaderTimeout bounds the wait for response headers; zero disables it.
func WithHeaderTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.headerTimeout = d
	}
}

// WithHTTPClient overrides the HTTP client. Its redirect policy is replaced so
// redirects are followed by the fetcher itself.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.base = client
		}
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher streams one URL to a temp file and commits it with a rename.
type Fetcher struct {
	base          *http.Client
	client        *http.Client
	userAgent     string
	maxRedirects  int
	headerTimeout time.Duration
	logger        *slog.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		userAgent:    defaultUserAgent,
		maxRedirects: defaultMaxRedirects,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	var client http.Client
	if f.base != nil {
		client = *f.base
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = f.headerTimeout
		client.Transport = transport
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f.client = &client
	f.logger = logging.NewComponentLogger(f.logger, "download")
	return f
}

// FetchRequest describes one transfer.
type FetchRequest struct {
	URL  string
	Dest string
	// ExpectedSize stands in for the total when the server sends no Content-Length.
	ExpectedSize int64
	// Extra receives every byte written, e.g. a hash.
	Extra io.Writer
	// Verify runs against the completed temp file before it is renamed.
	Verify func(tempPath string, written int64) error
	// OnProgress is called after every chunk.
	OnProgress func(done, total int64)
}

// Fetch downloads req.URL into req.Dest via req.Dest+TempSuffix. On any
// error the temp file is removed and nothing exists under req.Dest.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (int64, error) {
	if strings.TrimSpace(req.URL) == "" {
		return 0, errors.New("download url is empty")
	}
	if strings.TrimSpace(req.Dest) == "" {
		return 0, errors.New("download destination is empty")
	}

	resp, err := f.open(ctx, req.URL, 0)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total <= 0 {
		total = req.ExpectedSize
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	tempPath := req.Dest + TempSuffix
	written, err := f.stream(ctx, resp.Body, tempPath, total, req)
	if err != nil {
		_ = os.Remove(tempPath)
		return written, err
	}
	if req.Verify != nil {
		if err := req.Verify(tempPath, written); err != nil {
			_ = os.Remove(tempPath)
			return written, err
		}
	}
	if err := os.Rename(tempPath, req.Dest); err != nil {
		_ = os.Remove(tempPath)
		return written, fmt.Errorf("commit %s: %w", req.Dest, err)
	}
	return written, nil
}

func (f *Fetcher) open(ctx context.Context, rawURL string, hops int) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("GET %s: %w", rawURL, err)
		}
		return nil, services.Wrap(services.ErrTransient, "download", "GET", rawURL, err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		}
		if hops >= f.maxRedirects {
			return nil, fmt.Errorf("GET %s: %w (limit %d)", rawURL, ErrTooManyRedirects, f.maxRedirects)
		}
		next, err := resolveLocation(httpReq.URL, location)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("following redirect",
			logging.String("from", rawURL),
			logging.String("to", next),
			logging.Int("status", resp.StatusCode),
		)
		return f.open(ctx, next, hops+1)
	case resp.StatusCode >= 400 || resp.StatusCode < 200:
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func resolveLocation(current *url.URL, location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location %q: %w", location, err)
	}
	return current.ResolveReference(ref).String(), nil
}

func (f *Fetcher) stream(ctx context.Context, body io.Reader, tempPath string, total int64, req FetchRequest) (int64, error) {
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	var sink io.Writer = file
	if req.Extra != nil {
		sink = io.MultiWriter(file, req.Extra)
	}

	var done int64
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				file.Close()
				return done, fmt.Errorf("write %s: %w", tempPath, err)
			}
			done += int64(n)
			if req.OnProgress != nil {
				req.OnProgress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return done, ctxErr
			}
			return done, fmt.Errorf("read %s: %w", req.URL, readErr)
		}
	}
	if err := file.Close(); err != nil {
		return done, fmt.Errorf("close %s: %w", tempPath, err)
	}
	return done, nil
}
