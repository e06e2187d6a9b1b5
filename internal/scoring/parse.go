package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"lead_scraper/internal/domain"
)

var (
	errNoScore   = errors.New("no score in response")
	looseScoreRe = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
)

type scoreResponse struct {
	Score  json.RawMessage `json:"score"`
	Reason string          `json:"reason"`
}

// parseResponse extracts (score, reason) from model output. The object may be
// wrapped in markdown fences or surrounded by prose. Scores are rounded and
// clamped into [domain.MinScore, domain.MaxScore]; NaN is rejected.
func parseResponse(raw string) (int, string, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var resp scoreResponse
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err == nil && len(resp.Score) > 0 {
			v, err := scoreValue(resp.Score)
			if err != nil {
				return 0, "", err
			}
			return v, strings.TrimSpace(resp.Reason), nil
		}
	}

	if m := looseScoreRe.FindStringSubmatch(text); m != nil {
		v, err := roundFloat(m[1])
		if err != nil {
			return 0, "", err
		}
		return v, "", nil
	}

	return 0, "", errNoScore
}

func scoreValue(raw json.RawMessage) (int, error) {
	if string(raw) == "null" {
		return 0, errNoScore
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return toScore(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return roundFloat(strings.TrimSpace(s))
	}
	return 0, fmt.Errorf("score has unexpected type: %s", string(raw))
}

func roundFloat(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", s, err)
	}
	return toScore(f)
}

// toScore clamps before converting so huge or infinite values cannot
// overflow int.
func toScore(f float64) (int, error) {
	if math.IsNaN(f) {
		return 0, errors.New("score is NaN")
	}
	f = math.Max(domain.MinScore, math.Min(domain.MaxScore, f))
	return int(math.Round(f)), nil
}
