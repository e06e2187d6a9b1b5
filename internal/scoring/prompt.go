package scoring

import (
	"fmt"
	"strings"
)

const systemPrompt = `You qualify social media posts as sales leads for a small business.
Rate how likely the author is a potential customer on a scale from 1 (not a lead) to 10 (ready to buy).

Respond with ONLY a JSON object, no markdown, in exactly this shape:
{"score": <integer 1-10>, "reason": "<one short sentence>"}`

func buildUserPrompt(req Request, maxBodyChars int) string {
	var sb strings.Builder

	if g := strings.TrimSpace(req.Guidance); g != "" {
		fmt.Fprintf(&sb, "Scoring guidance from the business:\n%s\n\n", g)
	}
	fmt.Fprintf(&sb, "Matched keywords: %s\n", strings.Join(req.Keywords, ", "))
	fmt.Fprintf(&sb, "Title: %s\n", req.Title)
	fmt.Fprintf(&sb, "Body:\n%s\n", truncate(req.Body, maxBodyChars))

	return sb.String()
}

// truncate cuts s to at most n runes. n <= 0 disables truncation.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
