package platform

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	urlPattern   = regexp.MustCompile(`https?://(?:[-\w.]|[?=&/%#])+`)
	junkReplacer = strings.NewReplacer(`<`, "", `>`, "", `"`, "", `{`, "", `}`, "", `|`, "", `\`, "", `'`, "", "^", "", "`", "")
)

// CleanURL pulls the first URL out of free text. Share messages from the
// source apps wrap the link in promotional text, so the raw submission is
// rarely a bare URL.
func CleanURL(text string) string {
	match := urlPattern.FindString(text)
	if match == "" {
		return ""
	}
	u := junkReplacer.Replace(strings.TrimSpace(match))
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ""
	}
	return u
}

// NormalizeURL produces the cache key for a URL: lowercased host, no
// fragment, no tracking params, sorted query, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for key := range q {
		switch key {
		case "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "share_token", "from", "spm_id_from":
			q.Del(key)
		}
	}
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			for _, v := range q[k] {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}
	return u.String()
}

// IdentifyPlatform maps a URL to its platform by host.
func IdentifyPlatform(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Unknown
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case hasDomain(host, "douyin.com", "iesdouyin.com"):
		return Douyin
	case hasDomain(host, "xiaohongshu.com", "xhslink.com"):
		return Xiaohongshu
	case hasDomain(host, "kuaishou.com"):
		return Kuaishou
	case hasDomain(host, "bilibili.com", "b23.tv"):
		return Bilibili
	case hasDomain(host, "youtube.com", "youtu.be"):
		return YouTube
	case hasDomain(host, "tiktok.com"):
		return TikTok
	default:
		return Unknown
	}
}

func hasDomain(host string, domains ...string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
