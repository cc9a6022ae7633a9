package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/classroom-archive/pkg/ratelimit"
)

func TestYtDlpArgs(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		cookies  string
		want     []string
	}{
		{
			name:     "default format selection",
			platform: "youtube",
			want: []string{
				"-f", ytDlpFormat,
				"--merge-output-format", "mp4", "-o", "out.mp4", "--no-warnings", "--progress", "--no-part",
				"URL",
			},
		},
		{
			name:     "mux drops the selector and certificate checks",
			platform: "mux",
			cookies:  "chrome",
			want: []string{
				"--merge-output-format", "mp4", "-o", "out.mp4", "--no-warnings", "--progress", "--no-part",
				"--no-check-certificates",
				"--cookies-from-browser", "chrome",
				"URL",
			},
		},
		{
			name:     "loom uses explicit format ids and no browser cookies",
			platform: "loom",
			cookies:  "chrome",
			want: []string{
				"--merge-output-format", "mp4", "-o", "out.mp4", "--no-warnings", "--progress", "--no-part",
				"-f", loomFormat,
				"URL",
			},
		},
		{
			name:     "cookies for other platforms",
			platform: "vimeo",
			cookies:  "firefox",
			want: []string{
				"-f", ytDlpFormat,
				"--merge-output-format", "mp4", "-o", "out.mp4", "--no-warnings", "--progress", "--no-part",
				"--cookies-from-browser", "firefox",
				"URL",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, YtDlpArgs("URL", "out.mp4", tt.platform, tt.cookies))
		})
	}
}

func TestFFmpegArgs(t *testing.T) {
	assert.Equal(t, []string{
		"-headers", "Referer: https://www.skool.com/\r\n",
		"-i", "https://stream.mux.com/p.m3u8",
		"-c", "copy",
		"-y",
		"/tmp/video.mp4",
	}, FFmpegArgs("https://stream.mux.com/p.m3u8", "/tmp/video.mp4", "https://www.skool.com/"))
}

func TestExitError(t *testing.T) {
	err := &ExitError{Tool: "yt-dlp", Code: 1, Stderr: "ERROR: unavailable\n"}
	assert.Equal(t, "yt-dlp exited with code 1: ERROR: unavailable", err.Error())
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 5}
	fmt.Fprint(b, "abc")
	fmt.Fprint(b, "defgh")
	assert.Equal(t, "defgh", b.String())
	assert.Equal(t, "gh", lastN("abcdefgh", 2))
	assert.Equal(t, "ab", lastN("ab", 5))
}

func newTestClient() *Client {
	return NewClient(5*time.Second, 5, "Mozilla/5.0")
}

func TestClientFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		fmt.Fprint(w, "pdf-bytes")
	})
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		if n == 0 {
			fmt.Fprint(w, "arrived")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/attachment", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", r.URL.Query().Get("cd"))
		fmt.Fprint(w, "attached")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := newTestClient()

	t.Run("concrete destination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "a", "b", "Report.pdf")
		got, err := c.Fetch(ctx, srv.URL+"/files/report.pdf", dest)
		require.NoError(t, err)
		assert.Equal(t, dest, got)
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "pdf-bytes", string(data))
		_, err = os.Stat(dest + ".part")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("redirects within bound", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "hop.txt")
		_, err := c.Fetch(ctx, srv.URL+"/hop/5", dest)
		require.NoError(t, err)
		data, _ := os.ReadFile(dest)
		assert.Equal(t, "arrived", string(data))
	})

	t.Run("too many redirects", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "hop.txt")
		_, err := c.Fetch(ctx, srv.URL+"/hop/6", dest)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooManyRedirects)
		_, statErr := os.Stat(dest)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("non-2xx status", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "x")
		_, err := c.Fetch(ctx, srv.URL+"/missing", dest)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrHTTPStatus)
		var se *HTTPStatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusNotFound, se.Code)
		_, statErr := os.Stat(dest)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("directory placeholder names", func(t *testing.T) {
		tests := []struct {
			cd   string
			want string
		}{
			{`attachment; filename*=UTF-8''Q3%20Plan.pdf`, "Q3 Plan.pdf"},
			{`attachment; filename="notes.txt"`, "notes.txt"},
			{`attachment; filename=plain.csv`, "plain.csv"},
			{`attachment; filename="../../etc/passwd"`, "....etcpasswd"},
			{"", "attachment"},
		}
		for _, tt := range tests {
			dir := t.TempDir() + string(filepath.Separator)
			got, err := c.Fetch(ctx, srv.URL+"/attachment?cd="+url.QueryEscape(tt.cd), dir)
			require.NoError(t, err, tt.cd)
			assert.Equal(t, filepath.Join(dir, tt.want), got, tt.cd)
		}
	})
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"inline", ""},
		{`attachment; filename*=utf-8''r%C3%A9sum%C3%A9.pdf`, "résumé.pdf"},
		{`attachment; filename="a:b.txt"`, "ab.txt"},
		{`attachment; filename=broken"quote.txt; size=3`, "brokenquote.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filenameFromDisposition(tt.header), tt.header)
	}
}

func TestClientFetch_HostBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	limiter := ratelimit.NewHostLimiter(0)
	c := newTestClient().WithHostLimiter(limiter)
	dest := filepath.Join(t.TempDir(), "f")
	host := strings.TrimPrefix(srv.URL, "http://")

	_, err := c.Fetch(context.Background(), srv.URL+"/gone", dest)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, int64(0), limiter.Stats()[host].ErrorCount, "client errors do not count against the host")

	for i := 0; i < 4; i++ {
		_, err := c.Fetch(context.Background(), srv.URL+"/busy", dest)
		assert.ErrorIs(t, err, ErrHTTPStatus)
	}
	stats := limiter.Stats()[host]
	assert.Equal(t, int64(4), stats.ErrorCount)
	assert.True(t, stats.InBackoff)
	assert.Equal(t, int64(5), stats.RequestCount)
}

func TestClientFetch_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		switch r.URL.Path {
		case "/stall":
			w.Header().Set("Content-Length", "100")
			w.Write([]byte("abc"))
			flusher.Flush()
			select {
			case <-release:
			case <-r.Context().Done():
			}
		case "/trickle":
			w.Header().Set("Content-Length", "5")
			for i := 0; i < 5; i++ {
				w.Write([]byte("x"))
				flusher.Flush()
				time.Sleep(80 * time.Millisecond)
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	limiter := ratelimit.NewHostLimiter(0)
	c := NewClient(200*time.Millisecond, 5, "Mozilla/5.0").WithHostLimiter(limiter)
	dir := t.TempDir()

	start := time.Now()
	_, err := c.Fetch(context.Background(), srv.URL+"/stall", filepath.Join(dir, "stalled.bin"))
	assert.ErrorIs(t, err, ErrTransferStalled)
	assert.Less(t, time.Since(start), 2*time.Second)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file is left behind")
	assert.Equal(t, int64(1), limiter.Stats()[strings.TrimPrefix(srv.URL, "http://")].ErrorCount)

	// a slow body that keeps delivering data outlasts the timeout
	path, err := c.Fetch(context.Background(), srv.URL+"/trickle", filepath.Join(dir, "slow.bin"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "xxxxx", string(data))
}
