// Package classify defines the narrow request/response contract with the
// external AI classifier, the verdict model, and the response recovery rules.
package classify

import (
	"context"
	"encoding/json"
)

// Confidence is the classifier's self-reported confidence tier.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Action is the classifier's recommended operator action.
type Action string

const (
	ActionNone   Action = "none"
	ActionWatch  Action = "watch"
	ActionRevert Action = "revert"
	ActionWarn   Action = "warn"
	ActionReport Action = "report"
)

// Issue is one specific problem the classifier found in an edit.
type Issue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// EditVerdict is the structured result of scoring one edit.
type EditVerdict struct {
	HasIssues         bool       `json:"has_issues"`
	Probability       int        `json:"probability"` // 0-100 likelihood of a problem
	Confidence        Confidence `json:"confidence"`
	Reasoning         string     `json:"reasoning"`
	Issues            []Issue    `json:"issues,omitempty"`
	RecommendedAction Action     `json:"recommended_action"`
	Recommendation    string     `json:"recommendation"` // one line for the operator

	// Degraded is set when the verdict was synthesized from a failure or a
	// keyword fallback instead of a parsed classifier response.
	Degraded bool   `json:"degraded,omitempty"`
	RawError string `json:"raw_error,omitempty"`
}

// NameVerdict is the result of checking an author name against username
// policy.
type NameVerdict struct {
	Flagged    bool       `json:"flagged"`
	Category   string     `json:"category"` // promotional, offensive, impersonation, misleading, none
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// Request is a single scoring call: a free-text prompt plus the JSON schema
// the response must satisfy.
type Request struct {
	System    string
	Prompt    string
	Schema    json.RawMessage
	MaxTokens int
}

// Provider is any backend that can answer a Request with a raw text payload.
// The payload is expected to contain a JSON object matching the request
// schema, but callers must tolerate wrapping text and truncation (see
// ExtractJSON).
type Provider interface {
	Send(ctx context.Context, req *Request) (string, error)
}
