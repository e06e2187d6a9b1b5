// Package matcher selects the configured keywords that occur in a post.
package matcher

import "strings"

// Match returns the keywords that occur (case-insensitive) anywhere in the
// combined title + body text, in the order they were given. Keywords are
// expected to be already normalised with Normalize. An empty result means
// the post does not qualify.
func Match(title, body string, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	combined := strings.ToLower(title + " " + body)

	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Normalize trims and lower-cases raw keywords, dropping empties and
// duplicates while keeping first-seen order.
func Normalize(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
