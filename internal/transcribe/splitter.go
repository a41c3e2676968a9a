package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Splitter probes and cuts audio files. The engine only sees this interface;
// the production implementation shells out to ffprobe/ffmpeg.
type Splitter interface {
	// Probe returns the playable duration of the file.
	Probe(ctx context.Context, path string) (time.Duration, error)
	// Export writes the [start, start+duration) slice of src to dst.
	Export(ctx context.Context, src, dst string, start, duration time.Duration) error
}

// FFmpegSplitter implements Splitter with the local ffmpeg/ffprobe binaries.
type FFmpegSplitter struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpegSplitter(ffmpegPath, ffprobePath string) *FFmpegSplitter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegSplitter{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

func (s *FFmpegSplitter) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", out.String(), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (s *FFmpegSplitter) Export(ctx context.Context, src, dst string, start, duration time.Duration) error {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-v", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", src,
		"-vn",
		"-acodec", "libmp3lame",
		"-y",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg export failed: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
