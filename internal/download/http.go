package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Caia-Tech/classroom-archive/pkg/ratelimit"
)

var (
	// ErrTooManyRedirects is returned when a transfer exceeds its redirect bound.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrHTTPStatus matches every *HTTPStatusError.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrTransferStalled is returned when a response body delivers no data
	// for longer than the client timeout.
	ErrTransferStalled = errors.New("transfer stalled")
)

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	Code int
	URL  string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.Code, e.URL)
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// Client performs direct file transfers.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	limiter   *ratelimit.HostLimiter
}

// NewClient returns a client following at most maxRedirects redirects. The
// timeout is an idle timeout: it bounds connection setup, the wait for
// response headers and every gap between body reads. A zero timeout
// disables it.
func NewClient(timeout time.Duration, maxRedirects int, userAgent string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// WithHostLimiter paces requests per host through l.
func (c *Client) WithHostLimiter(l *ratelimit.HostLimiter) *Client {
	c.limiter = l
	return c
}

// HostStats returns the pacing statistics of every host contacted so far,
// or nil without a host limiter.
func (c *Client) HostStats() map[string]ratelimit.HostStats {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Stats()
}

// Fetch downloads rawURL to dest and returns the path written. When dest
// ends in a path separator it names a directory and the filename is taken
// from the Content-Disposition header, then the final URL, then "download".
// Data is streamed to a ".part" file that is renamed into place on success.
func (c *Client) Fetch(ctx context.Context, rawURL, dest string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	host := req.URL.Host
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, host); err != nil {
			return "", err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordError(host)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.recordError(host)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &HTTPStatusError{Code: resp.StatusCode, URL: rawURL}
	}
	if c.limiter != nil {
		c.limiter.RecordSuccess(host)
	}

	final := dest
	if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(filepath.Separator)) {
		name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
		if name == "" {
			name = filenameFromURL(resp.Request.URL.String())
		}
		if name == "" {
			name = "download"
		}
		final = filepath.Join(dest, name)
	}

	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	part := final + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	body := newIdleReader(resp.Body, c.timeout, cancel)
	defer body.stop()
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(part)
		if body.stalled.Load() {
			c.recordError(host)
			err = fmt.Errorf("%w: no data for %s", ErrTransferStalled, c.timeout)
		}
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(final), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return "", fmt.Errorf("failed to close %s: %w", filepath.Base(final), err)
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return "", fmt.Errorf("failed to move %s into place: %w", filepath.Base(final), err)
	}
	return final, nil
}

// idleReader cancels the request when no data arrives for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, func() {
			ir.stalled.Store(true)
			cancel()
		})
	}
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && ir.timer != nil && !ir.stalled.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}

func (c *Client) recordError(host string) {
	if c.limiter != nil {
		c.limiter.RecordError(host)
	}
}

var (
	dispositionStar   = regexp.MustCompile(`(?i)filename\*=utf-8''([^;]+)`)
	dispositionQuoted = regexp.MustCompile(`filename="(.+?)"`)
	dispositionPlain  = regexp.MustCompile(`filename=([^\s;]+)`)
)

// filenameFromDisposition extracts a filename from a Content-Disposition
// header, preferring the extended filename* form. Malformed headers that the
// mime parser rejects are still searched for a usable name.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil && params["filename"] != "" {
		return Sanitize(params["filename"], "")
	}
	if m := dispositionStar.FindStringSubmatch(header); m != nil {
		if name, err := url.PathUnescape(strings.TrimSpace(m[1])); err == nil {
			return Sanitize(name, "")
		}
	}
	if m := dispositionQuoted.FindStringSubmatch(header); m != nil {
		return Sanitize(m[1], "")
	}
	if m := dispositionPlain.FindStringSubmatch(header); m != nil {
		return Sanitize(m[1], "")
	}
	return ""
}
