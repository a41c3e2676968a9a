// Package platform is the boundary to source-platform metadata. Each
// platform's scraping or API quirks live behind the Adapter interface; the
// pipeline only consumes the normalized return value.
package platform

import (
	"context"
	"errors"
	"time"

	"mediascribe/internal/types"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNotFound            = errors.New("media not found")
	ErrFetchTimeout        = errors.New("platform fetch timeout")
)

// Known platforms.
const (
	Douyin      = "douyin"
	Xiaohongshu = "xiaohongshu"
	Kuaishou    = "kuaishou"
	Bilibili    = "bilibili"
	YouTube     = "youtube"
	TikTok      = "tiktok"
	Unknown     = "unknown"
)

// MediaType of the fetched content.
const (
	MediaTypeVideo = "video"
	MediaTypeImage = "image"
	MediaTypeNote  = "note"
)

// Media is the normalized metadata an adapter returns for a URL.
type Media struct {
	Platform        string
	ExternalID      string
	MediaType       string
	Title           string
	Description     string
	Tags            []string
	DurationSeconds float64
	DownloadURL     string
	Author          types.Author
	Stats           types.Stats
	CoverURL        string
	Width           int
	Height          int
	Comments        []types.Comment
	PublishedAt     *time.Time
}

// Adapter fetches normalized metadata for a URL. includeComments asks the
// platform for its comment list when it has one; adapters that cannot supply
// comments return the rest of the metadata unchanged.
type Adapter interface {
	Fetch(ctx context.Context, url string, includeComments bool) (*Media, error)
}

// Content builds the client-visible record from fetched metadata.
func (m *Media) Content(sourceURL string) *types.NormalizedContent {
	return &types.NormalizedContent{
		Platform:    m.Platform,
		ExternalID:  m.ExternalID,
		Title:       m.Title,
		Description: m.Description,
		Tags:        m.Tags,
		Author:      m.Author,
		Stats:       m.Stats,
		Comments:    m.Comments,
		PublishedAt: m.PublishedAt,
		Media: types.MediaInfo{
			CoverURL:        m.CoverURL,
			SourceURL:       sourceURL,
			DurationSeconds: m.DurationSeconds,
			Width:           m.Width,
			Height:          m.Height,
		},
	}
}
