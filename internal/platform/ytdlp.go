package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"mediascribe/internal/types"
)

// YtDlpAdapter resolves metadata through the local yt-dlp binary. It is the
// default adapter for every platform yt-dlp understands; platform-specific
// API adapters can replace it per platform.
type YtDlpAdapter struct {
	binaryPath string
	timeout    time.Duration
}

func NewYtDlpAdapter(binaryPath string, timeout time.Duration) *YtDlpAdapter {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &YtDlpAdapter{binaryPath: binaryPath, timeout: timeout}
}

// ytDlpInfo is the subset of `yt-dlp -J` output the adapter reads.
type ytDlpInfo struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Duration      float64        `json:"duration"`
	URL           string         `json:"url"`
	Thumbnail     string         `json:"thumbnail"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	Tags          []string       `json:"tags"`
	Uploader      string         `json:"uploader"`
	UploaderID    string         `json:"uploader_id"`
	ChannelFollow int64          `json:"channel_follower_count"`
	LikeCount     int64          `json:"like_count"`
	CommentCount  int64          `json:"comment_count"`
	RepostCount   int64          `json:"repost_count"`
	ViewCount     int64          `json:"view_count"`
	VCodec        string         `json:"vcodec"`
	Timestamp     int64          `json:"timestamp"`
	UploadDate    string         `json:"upload_date"`
	Comments      []ytDlpComment `json:"comments"`
}

// ytDlpComment is one entry of the comments array `--write-comments` adds
// to the info json.
type ytDlpComment struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	LikeCount int64  `json:"like_count"`
}

// media maps the raw info onto the normalized return value.
func (info *ytDlpInfo) media(plat string) *Media {
	mediaType := MediaTypeVideo
	if info.VCodec == "none" || (info.Duration == 0 && info.URL == "") {
		mediaType = MediaTypeImage
	}

	var comments []types.Comment
	for _, c := range info.Comments {
		comments = append(comments, types.Comment{
			Author:  c.Author,
			Text:    c.Text,
			LikedBy: c.LikeCount,
		})
	}

	return &Media{
		Platform:        plat,
		ExternalID:      info.ID,
		MediaType:       mediaType,
		Title:           info.Title,
		Description:     info.Description,
		Tags:            info.Tags,
		DurationSeconds: info.Duration,
		DownloadURL:     info.URL,
		CoverURL:        info.Thumbnail,
		Width:           info.Width,
		Height:          info.Height,
		Comments:        comments,
		PublishedAt:     info.publishedAt(),
		Author: types.Author{
			ID:            info.UploaderID,
			Nickname:      info.Uploader,
			FollowerCount: info.ChannelFollow,
		},
		Stats: types.Stats{
			LikeCount:    info.LikeCount,
			CommentCount: info.CommentCount,
			ShareCount:   info.RepostCount,
			PlayCount:    info.ViewCount,
		},
	}
}

// publishedAt prefers the exact timestamp and falls back to the day-granular
// upload_date.
func (info *ytDlpInfo) publishedAt() *time.Time {
	if info.Timestamp > 0 {
		t := time.Unix(info.Timestamp, 0).UTC()
		return &t
	}
	if info.UploadDate != "" {
		if t, err := time.Parse("20060102", info.UploadDate); err == nil {
			return &t
		}
	}
	return nil
}

func (a *YtDlpAdapter) Fetch(ctx context.Context, rawURL string, includeComments bool) (*Media, error) {
	plat := IdentifyPlatform(rawURL)
	if plat == Unknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{"-J", "--no-warnings", "--no-playlist"}
	if includeComments {
		args = append(args, "--write-comments")
	}
	args = append(args, rawURL)
	cmd := exec.CommandContext(ctx, a.binaryPath, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrFetchTimeout, rawURL)
		}
		msg := stderr.String()
		if strings.Contains(msg, "Unsupported URL") {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, rawURL)
		}
		if strings.Contains(msg, "404") || strings.Contains(msg, "not available") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, msg)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	return info.media(plat), nil
}
