package conversation

import "strings"

// Any matches every value of a criterion.
const Any = "any"

// Criteria is the history-view filter. All non-empty criteria must match.
type Criteria struct {
	Text     string   `json:"text,omitempty"`
	Emotion  Emotion  `json:"emotion,omitempty"`
	Modality Modality `json:"modality,omitempty"`
	Sender   Sender   `json:"sender,omitempty"`
}

// Predicate reports whether a turn belongs to a view.
type Predicate func(Turn) bool

// Match applies the criteria to one turn.
func (c Criteria) Match(t Turn) bool {
	if c.Text != "" && !strings.Contains(strings.ToLower(t.Text), strings.ToLower(c.Text)) {
		return false
	}
	if !isAny(string(c.Emotion)) && t.Emotion != c.Emotion {
		return false
	}
	if !isAny(string(c.Modality)) && t.Modality != c.Modality {
		return false
	}
	if !isAny(string(c.Sender)) && t.Sender != c.Sender {
		return false
	}
	return true
}

// Predicate exposes Match as a Predicate.
func (c Criteria) Predicate() Predicate {
	return c.Match
}

// IsZero reports whether the criteria match every turn.
func (c Criteria) IsZero() bool {
	return c.Text == "" && isAny(string(c.Emotion)) && isAny(string(c.Modality)) && isAny(string(c.Sender))
}

func isAny(value string) bool {
	return value == "" || strings.EqualFold(value, Any)
}
