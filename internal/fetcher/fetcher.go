package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Fetcher retrieves the raw content of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TransportError reports a failed retrieval. Status is zero for
// connection-level failures.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type Options struct {
	Timeout      time.Duration
	UserAgents   []string
	MaxBodyBytes int64
	Client       *http.Client
}

func DefaultOptions() *Options {
	return &Options{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 10 << 20,
	}
}

// HTTPFetcher fetches pages with a plain GET and decodes the body to UTF-8.
// It never retries.
type HTTPFetcher struct {
	client     *http.Client
	userAgents []string
	maxBody    int64
	next       uint32
	logger     *slog.Logger
}

func New(opts *Options, logger *slog.Logger) *HTTPFetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPFetcher{
		client:     client,
		userAgents: opts.UserAgents,
		maxBody:    opts.MaxBodyBytes,
		logger:     logger.With("component", "fetcher"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("invalid url: %v", err), Err: err}
	}

	if ua := f.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	f.logger.Debug("fetched page",
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	var body io.Reader = resp.Body
	if f.maxBody > 0 {
		body = io.LimitReader(resp.Body, f.maxBody)
	}

	bodyReader := bufio.NewReader(body)
	e := DetermineEncoding(bodyReader, resp.Header.Get("Content-Type"))
	utf8Reader := transform.NewReader(bodyReader, e.NewDecoder())

	content, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, &TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("read body: %v", err),
			Err:     err,
		}
	}
	return content, nil
}

func (f *HTTPFetcher) userAgent() string {
	if len(f.userAgents) == 0 {
		return ""
	}
	i := atomic.AddUint32(&f.next, 1) - 1
	return f.userAgents[i%uint32(len(f.userAgents))]
}

// DetermineEncoding sniffs the charset from the first KiB of r and the
// Content-Type header. It falls back to UTF-8.
func DetermineEncoding(r *bufio.Reader, contentType string) encoding.Encoding {
	b, err := r.Peek(1024)
	if err != nil && len(b) == 0 {
		return unicode.UTF8
	}

	e, _, _ := charset.DetermineEncoding(b, contentType)
	return e
}
