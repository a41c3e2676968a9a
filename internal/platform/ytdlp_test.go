package platform

import (
	"encoding/json"
	"testing"
	"time"
)

const sampleInfoJSON = `{
	"id": "7312345",
	"title": "street food tour",
	"description": "eating through the night market",
	"duration": 125.4,
	"url": "https://cdn.example.com/7312345.mp4",
	"thumbnail": "https://cdn.example.com/7312345.jpg",
	"width": 1080,
	"height": 1920,
	"tags": ["food", "travel"],
	"uploader": "foodie",
	"uploader_id": "u-991",
	"channel_follower_count": 52000,
	"like_count": 900,
	"comment_count": 2,
	"repost_count": 31,
	"view_count": 40000,
	"vcodec": "h264",
	"timestamp": 1717236000,
	"upload_date": "20240601",
	"comments": [
		{"author": "amy", "text": "looks amazing", "like_count": 12},
		{"author": "bo", "text": "which stall is this?", "like_count": 3}
	]
}`

func TestYtDlpInfoMapping(t *testing.T) {
	var info ytDlpInfo
	if err := json.Unmarshal([]byte(sampleInfoJSON), &info); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	m := info.media(Douyin)

	if m.MediaType != MediaTypeVideo {
		t.Errorf("media type = %q", m.MediaType)
	}
	if m.ExternalID != "7312345" || m.DurationSeconds != 125.4 {
		t.Errorf("basic fields wrong: %q / %v", m.ExternalID, m.DurationSeconds)
	}
	if len(m.Comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(m.Comments))
	}
	if m.Comments[0].Author != "amy" || m.Comments[0].Text != "looks amazing" || m.Comments[0].LikedBy != 12 {
		t.Errorf("first comment mapped as %+v", m.Comments[0])
	}
	if m.PublishedAt == nil {
		t.Fatal("published time missing")
	}
	if want := time.Unix(1717236000, 0).UTC(); !m.PublishedAt.Equal(want) {
		t.Errorf("published at %s, want %s", m.PublishedAt, want)
	}

	// The client-visible record carries both through.
	content := m.Content("https://v.douyin.com/abc")
	if len(content.Comments) != 2 || content.PublishedAt == nil {
		t.Error("comments or publish time dropped from the normalized record")
	}
}

func TestYtDlpPublishedAtFallsBackToUploadDate(t *testing.T) {
	info := ytDlpInfo{UploadDate: "20240601"}
	got := info.publishedAt()
	if got == nil {
		t.Fatal("expected upload_date to be used")
	}
	want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("published at %s, want %s", got, want)
	}
	if (&ytDlpInfo{}).publishedAt() != nil {
		t.Error("no date fields must yield nil")
	}
}

func TestYtDlpImageDetection(t *testing.T) {
	info := ytDlpInfo{ID: "n1", VCodec: "none"}
	if m := info.media(Xiaohongshu); m.MediaType != MediaTypeImage {
		t.Errorf("vcodec none mapped to %q", m.MediaType)
	}
	info = ytDlpInfo{ID: "n2"}
	if m := info.media(Xiaohongshu); m.MediaType != MediaTypeImage {
		t.Errorf("no duration and no url mapped to %q", m.MediaType)
	}
}
