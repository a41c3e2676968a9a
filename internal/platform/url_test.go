package platform

import "testing"

func TestCleanURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://v.douyin.com/abc123/", "https://v.douyin.com/abc123/"},
		{"7.43 Kwa:/ 复制打开抖音 https://v.douyin.com/abc123/ 看看这个视频", "https://v.douyin.com/abc123/"},
		{"check https://www.youtube.com/watch?v=dQw4w9WgXcQ now", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"no url here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanURL(tc.in); got != tc.want {
			t.Errorf("CleanURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://WWW.Douyin.com/video/123/", "https://www.douyin.com/video/123"},
		{"https://www.youtube.com/watch?v=abc&utm_source=share", "https://www.youtube.com/watch?v=abc"},
		{"https://example.com/p?b=2&a=1#frag", "https://example.com/p?a=1&b=2"},
	}
	for _, tc := range cases {
		if got := NormalizeURL(tc.in); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL_StableAcrossEquivalentForms(t *testing.T) {
	a := NormalizeURL("https://www.douyin.com/video/9?utm_campaign=x&from=wechat")
	b := NormalizeURL("https://WWW.DOUYIN.COM/video/9/")
	if a != b {
		t.Errorf("equivalent URLs normalize differently: %q vs %q", a, b)
	}
}

func TestIdentifyPlatform(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://v.douyin.com/abc/", Douyin},
		{"https://www.iesdouyin.com/share/video/1", Douyin},
		{"https://www.xiaohongshu.com/explore/xyz", Xiaohongshu},
		{"http://xhslink.com/abc", Xiaohongshu},
		{"https://www.kuaishou.com/short-video/3x", Kuaishou},
		{"https://www.bilibili.com/video/BV1", Bilibili},
		{"https://b23.tv/abc", Bilibili},
		{"https://youtu.be/abc", YouTube},
		{"https://www.youtube.com/watch?v=abc", YouTube},
		{"https://www.tiktok.com/@user/video/1", TikTok},
		{"https://example.com/video/1", Unknown},
		{"://bad", Unknown},
	}
	for _, tc := range cases {
		if got := IdentifyPlatform(tc.url); got != tc.want {
			t.Errorf("IdentifyPlatform(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
