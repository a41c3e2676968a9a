package types

import "time"

// ExtractionRequest is a single client submission. Immutable once created.
type ExtractionRequest struct {
	SourceURL      string `json:"source_url"`
	WantTranscript bool   `json:"want_transcript"`
	WantComments   bool   `json:"want_comments"`
	AccountID      string `json:"account_id"`
	TraceID        string `json:"trace_id"`
}

// JobHandle identifies the client-visible extraction job.
type JobHandle struct {
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Author struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	Avatar        string `json:"avatar,omitempty"`
	FollowerCount int64  `json:"follower_count"`
}

type Stats struct {
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	ShareCount   int64 `json:"share_count"`
	CollectCount int64 `json:"collect_count"`
	PlayCount    int64 `json:"play_count"`
}

type MediaInfo struct {
	CoverURL        string  `json:"cover_url,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

type Comment struct {
	Author  string `json:"author"`
	Text    string `json:"text"`
	LikedBy int64  `json:"liked_by,omitempty"`
}

// NormalizedContent is the platform-independent record the pipeline produces.
type NormalizedContent struct {
	Platform    string     `json:"platform"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Transcript  string     `json:"transcript,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Author      Author     `json:"author"`
	Stats       Stats      `json:"stats"`
	Media       MediaInfo  `json:"media"`
	Comments    []Comment  `json:"comments,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
