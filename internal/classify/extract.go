package classify

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a raw classifier payload.
// Models occasionally wrap the object in prose or stop generating mid-object;
// this scans from the first opening brace, tracking brace/bracket depth while
// ignoring characters inside quoted strings, and synthesizes the missing
// closers in the correct order if the payload is truncated.
//
// Returns false only when the payload contains no opening brace at all.
func ExtractJSON(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				// Mismatched closer: give up on the scan and let the caller
				// fall back to the keyword heuristic.
				return raw[start:], true
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return raw[start : i+1], true
			}
		}
	}

	// Truncated mid-object: close an open string, then unwind the stack.
	out := raw[start:]
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out, true
}

// problemWords drives the last-resort fallback when a payload cannot be
// parsed at all: their presence suggests the classifier saw an issue.
var problemWords = []string{
	"vandal", "spam", "blank", "offensive", "attack", "hoax",
	"nonsense", "damag", "disrupt", "unsourced", "defamat",
}

// sniffIssues reports whether a raw payload reads like a problem verdict.
func sniffIssues(raw string) bool {
	lower := strings.ToLower(raw)
	for _, w := range problemWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// DecodeEditVerdict parses a raw classifier payload into an EditVerdict.
// Parse failures never surface to the caller: the fallback is a low
// confidence keyword-sniffed verdict marked Degraded.
func DecodeEditVerdict(raw string) *EditVerdict {
	if extracted, ok := ExtractJSON(raw); ok {
		var v EditVerdict
		if err := json.Unmarshal([]byte(extracted), &v); err == nil {
			v.Degraded = false
			return &v
		}
	}

	return &EditVerdict{
		HasIssues:         sniffIssues(raw),
		Confidence:        ConfidenceLow,
		Reasoning:         "classifier response was not parseable; keyword heuristic applied",
		RecommendedAction: ActionNone,
		Degraded:          true,
	}
}

// DecodeNameVerdict parses a raw payload into a NameVerdict with the same
// recovery discipline as DecodeEditVerdict.
func DecodeNameVerdict(raw string) *NameVerdict {
	if extracted, ok := ExtractJSON(raw); ok {
		var v NameVerdict
		if err := json.Unmarshal([]byte(extracted), &v); err == nil {
			return &v
		}
	}
	return &NameVerdict{
		Flagged:    false,
		Category:   "none",
		Confidence: ConfidenceLow,
		Reasoning:  "classifier response was not parseable",
	}
}

// DegradedEditVerdict builds the safe default returned when the classifier
// call itself fails for a non-cancellation reason.
func DegradedEditVerdict(err error) *EditVerdict {
	return &EditVerdict{
		HasIssues:         false,
		Confidence:        ConfidenceLow,
		RecommendedAction: ActionNone,
		Degraded:          true,
		RawError:          err.Error(),
	}
}
