package linkutil

import (
	"regexp"
	"strings"
)

var (
	hrefRegexp = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=\s*["']([^"']+)["']`)
	bareRegexp = regexp.MustCompile(`(https?://[^\s<>"]+|www\.[^\s<>"]+)`)
)

// Extract returns every URL found in a message: href targets of anchor tags
// (messages may carry HTML formatting) plus bare URLs in the text itself.
// Duplicates are removed; first-seen order is preserved.
func Extract(text string) []string {
	var links []string
	seen := map[string]struct{}{}
	add := func(link string) {
		link = strings.TrimRight(link, ".,;:!?")
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	for _, m := range hrefRegexp.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range bareRegexp.FindAllString(text, -1) {
		add(m)
	}
	return links
}

// MatchesPrefix reports whether link falls under any of the given prefixes,
// ignoring an http/https scheme difference between link and prefix.
func MatchesPrefix(link string, prefixes []string) bool {
	bare := strings.TrimPrefix(strings.TrimPrefix(link, "https://"), "http://")
	for _, prefix := range prefixes {
		p := strings.TrimPrefix(strings.TrimPrefix(prefix, "https://"), "http://")
		if p != "" && strings.HasPrefix(bare, p) {
			return true
		}
	}
	return false
}
