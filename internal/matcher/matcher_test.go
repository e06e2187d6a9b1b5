package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch_CaseInsensitive(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Match("Hello World", "", []string{"hello"}))
}

func TestMatch_EmptyKeywords(t *testing.T) {
	assert.Empty(t, Match("anything at all", "body", nil))
	assert.Empty(t, Match("anything at all", "body", []string{}))
}

func TestMatch_EmptyBody(t *testing.T) {
	assert.Equal(t, []string{"hiring"}, Match("Hiring a VA", "", []string{"hiring", "need help"}))
}

func TestMatch_BodyOnly(t *testing.T) {
	got := Match("Weekly thread", "we NEED HELP with payroll", []string{"hiring", "need help"})
	assert.Equal(t, []string{"need help"}, got)
}

func TestMatch_AcrossTitleAndBodyBoundary(t *testing.T) {
	// title and body are joined by a single space
	got := Match("need", "help please", []string{"need help"})
	assert.Equal(t, []string{"need help"}, got)
}

func TestMatch_SubsetOfKeywords(t *testing.T) {
	keywords := []string{"bookkeeping", "hiring", "need help", "recipe"}
	texts := [][2]string{
		{"Need help with bookkeeping", ""},
		{"Just sharing a recipe", "grandma's"},
		{"", ""},
		{"Hiring a VA", "need help fast"},
	}
	for _, tt := range texts {
		got := Match(tt[0], tt[1], keywords)
		for _, kw := range got {
			assert.Contains(t, keywords, kw)
		}
		assert.LessOrEqual(t, len(got), len(keywords))
	}
}

func TestMatch_PreservesKeywordOrder(t *testing.T) {
	got := Match("hiring and need help", "", []string{"need help", "hiring"})
	assert.Equal(t, []string{"need help", "hiring"}, got)
}

func TestMatch_NoMatch(t *testing.T) {
	assert.Empty(t, Match("Just sharing a recipe", "", []string{"hiring", "need help"}))
}

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" Hiring ", "hiring", "", "  ", "Need Help", "need help", "VA"})
	assert.Equal(t, []string{"hiring", "need help", "va"}, got)
}

func TestNormalize_Empty(t *testing.T) {
	assert.Empty(t, Normalize(nil))
}
