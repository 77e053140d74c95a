// Package queue owns the ordered triage working set: the active queue, the
// dismissed history, the display cursor and its navigation state machine.
package queue

import (
	"time"

	"github.com/linnemanlabs/patrol/internal/classify"
	"github.com/linnemanlabs/patrol/internal/warnparse"
	"github.com/linnemanlabs/patrol/internal/wiki"
)

// PriorityBoost is added to an item's ordering score while its author is
// under an operator-set spotlight. Priority scores are probabilities in
// [0, 1], so any boosted item outranks every unboosted one.
const PriorityBoost = 10.0

// Page is the page-side snapshot taken at admission.
type Page struct {
	Title      string                 `json:"title"`
	History    []wiki.RevisionSummary `json:"history,omitempty"`
	Categories []string               `json:"categories,omitempty"`
	Meta       wiki.PageMeta          `json:"-"`
}

// Author is the author-side snapshot. Level is kept current by policy
// actions; LevelAtAdmission is frozen for downstream policy decisions.
type Author struct {
	Name             string          `json:"name"`
	EditCount        int64           `json:"edit_count"`
	EditCountKnown   bool            `json:"edit_count_known"`
	Level            warnparse.Level `json:"level"`
	LevelAtAdmission warnparse.Level `json:"level_at_admission"`
	Blocked          bool            `json:"blocked"`
	TalkEmpty        bool            `json:"talk_empty"`
}

// WorkItem is the unit of triage. RevisionID is the identity used for dedup
// and cancellation. Enrichment fields are mutated in place, asynchronously,
// while the item is in either list.
type WorkItem struct {
	RevisionID    int64  `json:"revision_id"`
	OldRevisionID int64  `json:"old_revision_id"`
	Namespace     int    `json:"namespace"`
	Page          Page   `json:"page"`
	Author        Author `json:"author"`

	ChangeSize int      `json:"change_size"`
	Comment    string   `json:"comment"`
	Minor      bool     `json:"minor"`
	Tags       []string `json:"tags,omitempty"`
	Diff       string   `json:"diff"` // opaque display payload

	Score    float64 `json:"score"`
	Boosted  bool    `json:"boosted"`
	Reviewed bool    `json:"reviewed"`

	Enrichment  *classify.EditVerdict `json:"enrichment,omitempty"`
	NameVerdict *classify.NameVerdict `json:"name_verdict,omitempty"`

	RevertsToday     int  `json:"reverts_today"`
	BLP              bool `json:"blp"`
	ConsecutiveEdits int  `json:"consecutive_edits"` // -1 until the async lookup resolves

	AdmittedAt time.Time `json:"admitted_at"`

	seq int64 // admission order, tie-breaker for equal scores
}

// clone returns a shallow copy for handing out beyond the queue mutex.
// Verdict pointers and admission-time slices are never mutated after they are
// published, so sharing them is safe; the item's own fields are not.
func (w *WorkItem) clone() *WorkItem {
	c := *w
	return &c
}

func (w *WorkItem) effectiveScore() float64 {
	if w.Boosted {
		return w.Score + PriorityBoost
	}
	return w.Score
}
