// Package wiki is the data collaborator for the triage engine: a narrow
// client contract over a MediaWiki-style API plus an ORES-style scoring
// endpoint.
package wiki

import (
	"context"
	"time"
)

// FeedEntry is one raw change from the recent-changes feed, before any
// filtering or enrichment.
type FeedEntry struct {
	RevisionID    int64     `json:"revid"`
	OldRevisionID int64     `json:"old_revid"`
	Title         string    `json:"title"`
	Namespace     int       `json:"ns"`
	User          string    `json:"user"`
	Comment       string    `json:"comment"`
	Minor         bool      `json:"minor"`
	Bot           bool      `json:"bot"`
	SizeDelta     int       `json:"size_delta"`
	Tags          []string  `json:"tags"`
	Timestamp     time.Time `json:"timestamp"`
}

// RevisionSummary is a compact slice of page or user history.
type RevisionSummary struct {
	RevisionID int64     `json:"revid"`
	ParentID   int64     `json:"parentid"`
	Title      string    `json:"title,omitempty"`
	User       string    `json:"user"`
	Comment    string    `json:"comment"`
	Minor      bool      `json:"minor"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserInfo carries the per-user facts the pipeline resolves in batch.
type UserInfo struct {
	Name      string
	EditCount int64
	Known     bool // false for anonymous/unregistered users with no count
	Blocked   bool
}

// PageMeta is locale metadata for rendering dates and language variants.
type PageMeta struct {
	DateFormat      string
	LanguageVariant string
}

// Client is the feed/data contract the triage core consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	PollChanges(ctx context.Context, namespaces []int, sinceID int64) ([]FeedEntry, error)
	Users(ctx context.Context, usernames []string) (map[string]UserInfo, error)
	TalkPageText(ctx context.Context, username string) (string, error)
	PageMetadata(ctx context.Context, title string) (PageMeta, error)
	Diff(ctx context.Context, oldRev, newRev int64) (string, error)
	History(ctx context.Context, title string) ([]RevisionSummary, error)
	Contributions(ctx context.Context, username string) ([]RevisionSummary, error)
	Categories(ctx context.Context, revisionID int64) ([]string, error)
	LatestRevisionIDs(ctx context.Context, titles []string) (map[string]int64, error)
	PriorityScores(ctx context.Context, revisionIDs []int64) (map[int64]float64, error)
}
