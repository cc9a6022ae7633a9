package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Caia-Tech/classroom-archive/pkg/media"
)

const (
	ytDlpFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	// Loom only serves HLS renditions and has no generic "best" pairing.
	loomFormat = "hls-raw-1500+hls-raw-audio-audio/hls-cdn-100+hls-cdn-audio-audio/best"

	ffmpegStderrKeep = 500
)

// YtDlpArgs builds the yt-dlp argument list for one video.
func YtDlpArgs(url, output, platform, cookiesFromBrowser string) []string {
	args := []string{}
	if platform != media.PlatformMux && platform != media.PlatformLoom {
		args = append(args, "-f", ytDlpFormat)
	}
	args = append(args,
		"--merge-output-format", "mp4",
		"-o", output,
		"--no-warnings",
		"--progress",
		"--no-part",
	)
	switch platform {
	case media.PlatformMux:
		args = append(args, "--no-check-certificates")
	case media.PlatformLoom:
		args = append(args, "-f", loomFormat)
	}
	if cookiesFromBrowser != "" && platform != media.PlatformLoom {
		args = append(args, "--cookies-from-browser", cookiesFromBrowser)
	}
	return append(args, url)
}

// FFmpegArgs builds the ffmpeg argument list that stream-copies url into
// output, sending referer with every request.
func FFmpegArgs(url, output, referer string) []string {
	return []string{
		"-headers", "Referer: " + referer + "\r\n",
		"-i", url,
		"-c", "copy",
		"-y",
		output,
	}
}

// partialPath is where a video is written while it downloads. The
// extension is kept so both tools still pick the mp4 container.
func partialPath(dest string) string {
	ext := filepath.Ext(dest)
	return strings.TrimSuffix(dest, ext) + ".part" + ext
}

// fetchVideo hands HLS streams that need remuxing to ffmpeg and everything
// else to yt-dlp. Output goes to the partial path and is moved to it.Dest
// only after a zero exit, so a failed or interrupted run never leaves a file
// the on-disk resume check would accept.
func (e *Engine) fetchVideo(ctx context.Context, it Item) error {
	part := partialPath(it.Dest)
	if err := e.runTool(ctx, it, part); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, it.Dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(it.Dest), err)
	}
	return nil
}

func (e *Engine) runTool(ctx context.Context, it Item, output string) error {
	if it.Platform == media.PlatformMux {
		err := e.runner.Run(ctx, e.cfg.FFmpegPath, FFmpegArgs(it.URL, output, e.cfg.Referer)...)
		var ee *ExitError
		if errors.As(err, &ee) {
			ee.Stderr = lastN(ee.Stderr, ffmpegStderrKeep)
		}
		return err
	}
	return e.runner.Run(ctx, e.cfg.YtDlpPath, YtDlpArgs(it.URL, output, it.Platform, e.cfg.CookiesFromBrowser)...)
}
