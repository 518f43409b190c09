package gamma

import (
	"strings"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// Tag is a venue-side grouping label, resolved from a slug. Gamma encodes
// the id as a JSON string.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// Market is one listing record as Gamma returns it. clobTokenIds and
// outcomes arrive as JSON-encoded list strings, not arrays.
type Market struct {
	ID           string `json:"id"`
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	Description  string `json:"description"`
	EndDate      string `json:"endDate"`
	ClobTokenIDs string `json:"clobTokenIds"`
	Outcomes     string `json:"outcomes"`
	Closed       bool   `json:"closed"`
}

// MarketID returns the stable identifier, preferring the condition id.
func (m Market) MarketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// TokenIDs decodes the outcome token id list.
func (m Market) TokenIDs() []string {
	return model.ParseJSONListString(m.ClobTokenIDs)
}

// OutcomeLabels decodes the outcome labels, defaulting to the two-outcome
// Up/Down set when the market exposes none.
func (m Market) OutcomeLabels() []string {
	labels := model.ParseJSONListString(m.Outcomes)
	if len(labels) == 0 {
		return []string{"Up", "Down"}
	}
	return labels
}

// MatchesKeywords reports whether the market's question plus description
// contains every keyword, case-insensitively.
func (m Market) MatchesKeywords(keywords []string) bool {
	text := strings.ToLower(m.Question + " " + m.Description)
	for _, kw := range keywords {
		if !strings.Contains(text, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
