package classify

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON_CleanObject(t *testing.T) {
	t.Parallel()

	raw := `{"has_issues": true, "probability": 80}`
	got, ok := ExtractJSON(raw)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got != raw {
		t.Errorf("got %q, want %q", got, raw)
	}
}

func TestExtractJSON_WrappedInProse(t *testing.T) {
	t.Parallel()

	raw := "Here is my assessment:\n```json\n{\"has_issues\": false, \"probability\": 5}\n```\nLet me know if you need more."
	got, ok := ExtractJSON(raw)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	want := `{"has_issues": false, "probability": 5}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	t.Parallel()

	raw := `{"reasoning": "the edit added {{bad template}} and } stray braces", "has_issues": true}`
	got, ok := ExtractJSON(raw)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(got), &v); err != nil {
		t.Fatalf("extracted payload does not parse: %v", err)
	}
	if v["has_issues"] != true {
		t.Error("expected has_issues true")
	}
}

func TestExtractJSON_EscapedQuotes(t *testing.T) {
	t.Parallel()

	raw := `{"reasoning": "author wrote \"hello {world}\"", "has_issues": false}`
	got, ok := ExtractJSON(raw)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(got), &v); err != nil {
		t.Fatalf("extracted payload does not parse: %v", err)
	}
}

func TestExtractJSON_TruncatedObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"mid array", `{"issues": [{"type": "spam", "severity": "high"`},
		{"mid string", `{"reasoning": "this edit blanked the sec`},
		{"mid object", `{"has_issues": true, "issues": [{"type": "vandalism"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractJSON(tt.raw)
			if !ok {
				t.Fatal("expected extraction to succeed")
			}
			var v map[string]any
			if err := json.Unmarshal([]byte(got), &v); err != nil {
				t.Fatalf("repaired payload does not parse: %v\npayload: %s", err, got)
			}
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	t.Parallel()

	if _, ok := ExtractJSON("no json here at all"); ok {
		t.Error("expected extraction to fail")
	}
	if _, ok := ExtractJSON(""); ok {
		t.Error("expected extraction to fail on empty input")
	}
}

func TestDecodeEditVerdict_Valid(t *testing.T) {
	t.Parallel()

	raw := `{"has_issues": true, "probability": 92, "confidence": "high",
		"reasoning": "section blanking", "recommended_action": "revert",
		"recommendation": "Revert and warn.",
		"issues": [{"type": "blanking", "severity": "high", "description": "removed sourced content"}]}`

	v := DecodeEditVerdict(raw)
	if v.Degraded {
		t.Error("valid payload should not be degraded")
	}
	if !v.HasIssues || v.Probability != 92 {
		t.Errorf("got has_issues=%v probability=%d", v.HasIssues, v.Probability)
	}
	if v.RecommendedAction != ActionRevert {
		t.Errorf("action = %q, want %q", v.RecommendedAction, ActionRevert)
	}
	if len(v.Issues) != 1 || v.Issues[0].Type != "blanking" {
		t.Errorf("issues = %+v", v.Issues)
	}
}

func TestDecodeEditVerdict_FallbackSniffsKeywords(t *testing.T) {
	t.Parallel()

	v := DecodeEditVerdict("I think this is clear vandalism but I cannot produce the format you asked for")
	if !v.Degraded {
		t.Error("expected degraded verdict")
	}
	if !v.HasIssues {
		t.Error("keyword sniff should set has_issues for vandalism mention")
	}
	if v.Confidence != ConfidenceLow {
		t.Errorf("confidence = %q, want low", v.Confidence)
	}

	clean := DecodeEditVerdict("everything looks perfectly fine to me")
	if clean.HasIssues {
		t.Error("no problem words, has_issues should be false")
	}
	if !clean.Degraded {
		t.Error("expected degraded verdict")
	}
}

func TestDecodeNameVerdict_Fallback(t *testing.T) {
	t.Parallel()

	v := DecodeNameVerdict("not json")
	if v.Flagged {
		t.Error("fallback name verdict must not flag")
	}
	if v.Confidence != ConfidenceLow {
		t.Errorf("confidence = %q, want low", v.Confidence)
	}
}

func TestDegradedEditVerdict(t *testing.T) {
	t.Parallel()

	v := DegradedEditVerdict(errTest)
	if v.HasIssues {
		t.Error("degraded verdict must not flag issues")
	}
	if v.Confidence != ConfidenceLow {
		t.Errorf("confidence = %q, want low", v.Confidence)
	}
	if v.RawError != "boom" {
		t.Errorf("raw error = %q, want %q", v.RawError, "boom")
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTest = testErr("boom")
