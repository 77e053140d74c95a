package classify

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

const (
	editMaxTokens = 1024
	nameMaxTokens = 512
)

// AuthorBucket is the coarse experience tier the classifier is told about
// instead of a raw edit count.
type AuthorBucket string

const (
	BucketAnonymous    AuthorBucket = "anonymous/temporary"
	BucketBrandNew     AuthorBucket = "brand-new"
	BucketVeryNew      AuthorBucket = "very-new"
	BucketNew          AuthorBucket = "new"
	BucketIntermediate AuthorBucket = "intermediate"
	BucketExperienced  AuthorBucket = "experienced"
)

// BucketAuthor maps an author to an experience bucket. IP editors, temporary
// accounts and accounts with no known edit count are all anonymous/temporary.
func BucketAuthor(name string, editCount int64, known bool) AuthorBucket {
	if !known || strings.HasPrefix(name, "~") || net.ParseIP(name) != nil {
		return BucketAnonymous
	}
	switch {
	case editCount < 10:
		return BucketBrandNew
	case editCount < 50:
		return BucketVeryNew
	case editCount < 250:
		return BucketNew
	case editCount < 2500:
		return BucketIntermediate
	default:
		return BucketExperienced
	}
}

// namespaceLeniency hints how strictly the classifier should judge content in
// a namespace. Talk and user space tolerate informal writing that would be a
// problem in an article.
func namespaceLeniency(ns int) string {
	switch ns {
	case 0:
		return "This is an article. Judge content strictly: unsourced claims, promotional tone and informal writing are all problems."
	case 1, 3, 5:
		return "This is a discussion page. Informal tone, opinions and signatures are normal; only judge abuse, harassment or vandalism."
	case 2:
		return "This is a user page. Users have wide latitude here; only judge attacks, spam or policy violations."
	default:
		return "Judge with moderate strictness appropriate to a project page."
	}
}

// EditContext is everything the orchestrator knows about an edit when it
// requests scoring.
type EditContext struct {
	Title            string
	Namespace        int
	Comment          string
	Diff             string
	Tags             []string
	SizeDelta        int
	Minor            bool
	Author           string
	AuthorEditCount  int64
	AuthorCountKnown bool
	WarningLevel     string
	Categories       []string
	BLP              bool
}

const editSystemPrompt = `You are a content moderation assistant for a collaborative wiki.
You review a single edit and decide whether it likely needs moderator action.
Respond with exactly one JSON object matching the provided schema and nothing else.
Be calibrated: most edits are fine, and reverting good-faith contributions drives new editors away.`

// editSchema is the response contract sent with every edit-scoring request.
var editSchema = json.RawMessage(`{
    "type": "object",
    "properties": {
        "has_issues": {"type": "boolean"},
        "probability": {"type": "integer", "minimum": 0, "maximum": 100},
        "confidence": {"type": "string", "enum": ["low", "medium", "high"]},
        "reasoning": {"type": "string"},
        "issues": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "type": {"type": "string"},
                    "severity": {"type": "string", "enum": ["low", "medium", "high"]},
                    "description": {"type": "string"}
                },
                "required": ["type", "severity", "description"]
            }
        },
        "recommended_action": {"type": "string", "enum": ["none", "watch", "revert", "warn", "report"]},
        "recommendation": {"type": "string"}
    },
    "required": ["has_issues", "probability", "confidence", "reasoning", "recommended_action", "recommendation"]
}`)

// NewEditRequest builds the scoring request for one edit.
func NewEditRequest(ec *EditContext) *Request {
	var b strings.Builder

	fmt.Fprintf(&b, "Page: %s\n", ec.Title)
	fmt.Fprintf(&b, "Author experience: %s\n", BucketAuthor(ec.Author, ec.AuthorEditCount, ec.AuthorCountKnown))
	if ec.WarningLevel != "0" && ec.WarningLevel != "" {
		fmt.Fprintf(&b, "Author's current warning level this month: %s\n", ec.WarningLevel)
	}
	if ec.Comment != "" {
		fmt.Fprintf(&b, "Edit summary: %s\n", ec.Comment)
	}
	fmt.Fprintf(&b, "Size change: %+d bytes", ec.SizeDelta)
	if ec.Minor {
		b.WriteString(" (marked minor)")
	}
	b.WriteString("\n")
	if len(ec.Tags) > 0 {
		fmt.Fprintf(&b, "Edit tags: %s\n", strings.Join(ec.Tags, ", "))
	}
	if ec.BLP {
		b.WriteString("The page is a biography of a living person: unsourced negative content is a serious problem.\n")
	}
	if len(ec.Categories) > 0 {
		fmt.Fprintf(&b, "Page categories: %s\n", strings.Join(ec.Categories, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", namespaceLeniency(ec.Namespace))
	fmt.Fprintf(&b, "\nDiff of the edit:\n%s\n", ec.Diff)

	return &Request{
		System:    editSystemPrompt,
		Prompt:    b.String(),
		Schema:    editSchema,
		MaxTokens: editMaxTokens,
	}
}

const nameSystemPrompt = `You check a wiki username against username policy.
Respond with exactly one JSON object matching the provided schema and nothing else.
Only flag names that are clearly promotional, offensive, impersonating, or misleading; unusual is not a violation.`

var nameSchema = json.RawMessage(`{
    "type": "object",
    "properties": {
        "flagged": {"type": "boolean"},
        "category": {"type": "string", "enum": ["promotional", "offensive", "impersonation", "misleading", "none"]},
        "confidence": {"type": "string", "enum": ["low", "medium", "high"]},
        "reasoning": {"type": "string"}
    },
    "required": ["flagged", "category", "confidence", "reasoning"]
}`)

// NewNameRequest builds the username-policy request for an author, with the
// page they edited as context (company names editing their own article, etc).
func NewNameRequest(name, pageContext string) *Request {
	prompt := fmt.Sprintf("Username: %s\n", name)
	if pageContext != "" {
		prompt += fmt.Sprintf("The user edited the page: %s\n", pageContext)
	}
	return &Request{
		System:    nameSystemPrompt,
		Prompt:    prompt,
		Schema:    nameSchema,
		MaxTokens: nameMaxTokens,
	}
}
