package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/patrol/internal/classify"
	"github.com/linnemanlabs/patrol/internal/warnparse"
)

// Canceller aborts in-flight enrichment for departing items. The enrichment
// orchestrator satisfies this.
type Canceller interface {
	Cancel(revisionID int64)
	CancelAll()
}

// Callbacks are the hooks the presentation collaborator registers. All hooks
// are optional and are invoked after the queue mutation completes, never
// while internal state is mid-update.
type Callbacks struct {
	// OnQueueChanged fires after any mutation that changes the active list
	// or the cursor. Items is a snapshot; cursor may be nil.
	OnQueueChanged func(items []*WorkItem, cursor *WorkItem)
	// OnItemRemoved fires when an item is discarded or removed as stale.
	OnItemRemoved func(revisionID int64)
	// OnEnrichmentUpdated fires when an asynchronous enrichment result lands
	// on an item that still exists. underCursor reports whether the item was
	// under the cursor at that moment; display side effects key off it.
	OnEnrichmentUpdated func(revisionID int64, underCursor bool)
	// OnItemLeft fires when navigation departs an item (advance or retreat),
	// used by collaborators to trigger follow-up policy prompts.
	OnItemLeft func(item *WorkItem)
}

// Queue is the triage working set. All operations are total: calls against
// an empty queue or an unknown revision are no-ops. Safe for concurrent use;
// mutations are applied atomically relative to each other, and callbacks run
// outside the lock.
type Queue struct {
	mu      sync.Mutex
	active  []*WorkItem
	history []*WorkItem
	cursor  int // index into active, -1 when unset
	nextSeq int64

	capacity   int
	historyCap int

	canceller Canceller
	cb        Callbacks
	logger    log.Logger
	metrics   *Metrics
}

// New creates a queue with the given soft capacity and dismissed-history
// bound. canceller may be nil (no enrichment to cancel); metrics may be nil.
func New(capacity, historyCap int, canceller Canceller, cb Callbacks, logger log.Logger, m *Metrics) *Queue {
	if logger == nil {
		logger = log.Nop()
	}
	return &Queue{
		cursor:     -1,
		capacity:   capacity,
		historyCap: historyCap,
		canceller:  canceller,
		cb:         cb,
		logger:     logger,
		metrics:    m,
	}
}

// Admit appends an item to the active queue. It is a no-op when an item with
// the same revision id already exists in either list, or when the queue is at
// capacity. Returns whether the item was admitted.
func (q *Queue) Admit(item *WorkItem) bool {
	q.mu.Lock()

	if q.findActiveLocked(item.RevisionID) >= 0 || q.findHistoryLocked(item.RevisionID) >= 0 {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.AdmissionsTotal.WithLabelValues("duplicate").Inc()
		}
		return false
	}
	if len(q.active) >= q.capacity {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.AdmissionsTotal.WithLabelValues("capacity").Inc()
		}
		return false
	}

	item.seq = q.nextSeq
	q.nextSeq++
	if item.AdmittedAt.IsZero() {
		item.AdmittedAt = time.Now()
	}

	q.active = append(q.active, item)
	if q.cursor < 0 {
		q.cursor = len(q.active) - 1
	}

	cursorItem := q.cursorItemLocked()
	q.resortLocked()
	q.relocateCursorLocked(cursorItem)
	q.observeDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	}
	q.notifyChanged()
	return true
}

// Advance moves the cursor forward. With no cursor set it lands on index 0;
// otherwise the current item is dismissed into history (marked reviewed if it
// was the oldest) and the cursor takes over whatever now occupies its slot.
func (q *Queue) Advance() {
	q.mu.Lock()

	if len(q.active) == 0 {
		q.mu.Unlock()
		return
	}
	if q.cursor < 0 {
		q.cursor = 0
		q.mu.Unlock()
		q.notifyChanged()
		return
	}

	left := q.active[q.cursor]
	if q.cursor == 0 {
		left.Reviewed = true
	}
	q.active = append(q.active[:q.cursor], q.active[q.cursor+1:]...)
	q.pushHistoryLocked(left)

	switch {
	case len(q.active) == 0:
		q.cursor = -1
	case q.cursor >= len(q.active):
		q.cursor = len(q.active) - 1
	}
	left = left.clone()
	q.observeDepthLocked()
	q.mu.Unlock()

	if q.canceller != nil {
		q.canceller.Cancel(left.RevisionID)
	}
	if q.metrics != nil {
		q.metrics.AdvancesTotal.Inc()
	}
	q.notifyLeft(left)
	q.notifyChanged()
}

// Retreat moves the cursor backward. At the head (or with no cursor) it pulls
// the most recently dismissed item back to the front of the active queue;
// otherwise it just steps the cursor one slot earlier.
func (q *Queue) Retreat() {
	q.mu.Lock()

	var left *WorkItem
	switch {
	case q.cursor <= 0:
		if len(q.history) == 0 {
			q.mu.Unlock()
			return
		}
		left = q.cursorItemLocked()
		restored := q.history[len(q.history)-1]
		q.history = q.history[:len(q.history)-1]
		q.active = append([]*WorkItem{restored}, q.active...)
		q.cursor = 0
	case q.cursor > 0:
		left = q.active[q.cursor]
		q.cursor--
	}
	if left != nil {
		left = left.clone()
	}
	q.observeDepthLocked()
	q.mu.Unlock()

	if left != nil && q.canceller != nil {
		q.canceller.Cancel(left.RevisionID)
	}
	if q.metrics != nil {
		q.metrics.RetreatsTotal.Inc()
	}
	if left != nil {
		q.notifyLeft(left)
	}
	q.notifyChanged()
}

// Discard removes an item from whichever list holds it, without marking it
// reviewed. Unknown revision ids are a no-op.
func (q *Queue) Discard(revisionID int64) {
	q.mu.Lock()

	removed := false
	if idx := q.findActiveLocked(revisionID); idx >= 0 {
		q.active = append(q.active[:idx], q.active[idx+1:]...)
		switch {
		case len(q.active) == 0:
			q.cursor = -1
		case idx < q.cursor:
			q.cursor--
		case idx == q.cursor && q.cursor >= len(q.active):
			q.cursor = len(q.active) - 1
		}
		removed = true
	} else if idx := q.findHistoryLocked(revisionID); idx >= 0 {
		q.history = append(q.history[:idx], q.history[idx+1:]...)
		removed = true
	}
	q.observeDepthLocked()
	q.mu.Unlock()

	if !removed {
		return
	}
	if q.canceller != nil {
		q.canceller.Cancel(revisionID)
	}
	if q.metrics != nil {
		q.metrics.DiscardsTotal.Inc()
	}
	q.notifyRemoved(revisionID)
	q.notifyChanged()
}

// Clear cancels all enrichment, empties both lists and unsets the cursor.
// This is the only operation that purges dismissed history.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.active = nil
	q.history = nil
	q.cursor = -1
	q.observeDepthLocked()
	q.mu.Unlock()

	if q.canceller != nil {
		q.canceller.CancelAll()
	}
	q.notifyChanged()
}

// RemoveStale removes active items whose revision is no longer the newest for
// their page. The item under the cursor is spared unless a newer item for the
// same page is already in the active queue; the cursor then repositions the
// way a discard would. Returns the removed ids.
func (q *Queue) RemoveStale(latest map[string]int64) []int64 {
	q.mu.Lock()

	cursorItem := q.cursorItemLocked()
	stale := func(item *WorkItem) bool {
		newest, ok := latest[item.Page.Title]
		if !ok || newest <= item.RevisionID {
			return false
		}
		if item != cursorItem {
			return true
		}
		// The displayed item goes only if a replacement is already queued.
		for _, other := range q.active {
			if other != item && other.Page.Title == item.Page.Title && other.RevisionID > item.RevisionID {
				return true
			}
		}
		return false
	}

	var removed []int64
	var doomed []*WorkItem
	for _, item := range q.active {
		if stale(item) {
			doomed = append(doomed, item)
		}
	}
	kept := q.active[:0]
	for _, item := range q.active {
		if len(doomed) > 0 && item == doomed[0] {
			doomed = doomed[1:]
			removed = append(removed, item.RevisionID)
			if item == cursorItem {
				cursorItem = nil
			}
			continue
		}
		kept = append(kept, item)
	}
	q.active = kept
	q.relocateCursorLocked(cursorItem)
	q.observeDepthLocked()
	q.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	for _, rev := range removed {
		if q.canceller != nil {
			q.canceller.Cancel(rev)
		}
		if q.metrics != nil {
			q.metrics.StaleRemovalsTotal.Inc()
		}
		q.notifyRemoved(rev)
	}
	q.notifyChanged()
	return removed
}

// ApplyEnrichment lands an asynchronous scoring result on an item, if it
// still exists in either list. Results for departed items are dropped
// (stale-response suppression).
func (q *Queue) ApplyEnrichment(revisionID int64, verdict *classify.EditVerdict) bool {
	q.mu.Lock()
	item := q.findAnywhereLocked(revisionID)
	if item == nil {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.EnrichmentsTotal.WithLabelValues("stale").Inc()
		}
		return false
	}
	item.Enrichment = verdict
	underCursor := item == q.cursorItemLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.EnrichmentsTotal.WithLabelValues("applied").Inc()
	}
	if q.cb.OnEnrichmentUpdated != nil {
		q.cb.OnEnrichmentUpdated(revisionID, underCursor)
	}
	return true
}

// ApplyNameVerdict lands an asynchronous username-policy result, with the
// same stale-response suppression as ApplyEnrichment.
func (q *Queue) ApplyNameVerdict(revisionID int64, verdict *classify.NameVerdict) bool {
	q.mu.Lock()
	item := q.findAnywhereLocked(revisionID)
	if item == nil {
		q.mu.Unlock()
		return false
	}
	item.NameVerdict = verdict
	underCursor := item == q.cursorItemLocked()
	q.mu.Unlock()

	if q.cb.OnEnrichmentUpdated != nil {
		q.cb.OnEnrichmentUpdated(revisionID, underCursor)
	}
	return true
}

// ApplyConsecutiveEdits resolves the deferred consecutive-edits lookup.
// Late results for departed items are dropped.
func (q *Queue) ApplyConsecutiveEdits(revisionID int64, count int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.findAnywhereLocked(revisionID)
	if item == nil {
		return false
	}
	item.ConsecutiveEdits = count
	return true
}

// SetAuthorLevel updates the current severity level on every queued item by
// the author, in both lists. LevelAtAdmission stays frozen.
func (q *Queue) SetAuthorLevel(author string, level warnparse.Level) {
	q.mu.Lock()
	for _, item := range q.active {
		if item.Author.Name == author {
			item.Author.Level = level
		}
	}
	for _, item := range q.history {
		if item.Author.Name == author {
			item.Author.Level = level
		}
	}
	q.mu.Unlock()
	q.notifyChanged()
}

// SetBoosted toggles the operator spotlight on every active item by the
// author and re-sorts the unpinned tail.
func (q *Queue) SetBoosted(author string, boosted bool) {
	q.mu.Lock()
	changed := false
	for _, item := range q.active {
		if item.Author.Name == author && item.Boosted != boosted {
			item.Boosted = boosted
			changed = true
		}
	}
	if changed {
		cursorItem := q.cursorItemLocked()
		q.resortLocked()
		q.relocateCursorLocked(cursorItem)
	}
	q.mu.Unlock()
	if changed {
		q.notifyChanged()
	}
}

// Cursor returns a copy of the item currently under the cursor, or nil.
// Copies keep readers clear of in-place enrichment writes.
func (q *Queue) Cursor() *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item := q.cursorItemLocked(); item != nil {
		return item.clone()
	}
	return nil
}

// Items returns a snapshot of the active queue in display order. The items
// are copies.
func (q *Queue) Items() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []*WorkItem {
	out := make([]*WorkItem, len(q.active))
	for i, item := range q.active {
		out[i] = item.clone()
	}
	return out
}

// Has reports whether a revision exists in the active queue or history.
func (q *Queue) Has(revisionID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.findActiveLocked(revisionID) >= 0 || q.findHistoryLocked(revisionID) >= 0
}

// Len returns the active queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// HistoryLen returns the dismissed-history depth.
func (q *Queue) HistoryLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.history)
}

// AtCapacity reports whether admissions would currently be refused.
func (q *Queue) AtCapacity() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active) >= q.capacity
}

// resortLocked keeps index 0 pinned and sorts the rest descending by
// effective score, ties broken by admission order.
func (q *Queue) resortLocked() {
	if len(q.active) < 3 {
		return
	}
	rest := q.active[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		si, sj := rest[i].effectiveScore(), rest[j].effectiveScore()
		if si != sj {
			return si > sj
		}
		return rest[i].seq < rest[j].seq
	})
}

// relocateCursorLocked re-finds the cursor index after the active list was
// reordered or filtered. A departed cursor item unsets the cursor unless the
// list still has entries, in which case it clamps.
func (q *Queue) relocateCursorLocked(item *WorkItem) {
	if item == nil {
		if q.cursor >= len(q.active) {
			q.cursor = len(q.active) - 1
		}
		return
	}
	for i, it := range q.active {
		if it == item {
			q.cursor = i
			return
		}
	}
	if q.cursor >= len(q.active) {
		q.cursor = len(q.active) - 1
	}
}

func (q *Queue) cursorItemLocked() *WorkItem {
	if q.cursor < 0 || q.cursor >= len(q.active) {
		return nil
	}
	return q.active[q.cursor]
}

func (q *Queue) pushHistoryLocked(item *WorkItem) {
	q.history = append(q.history, item)
	if q.historyCap > 0 && len(q.history) > q.historyCap {
		q.history = q.history[len(q.history)-q.historyCap:]
	}
}

func (q *Queue) findActiveLocked(revisionID int64) int {
	for i, item := range q.active {
		if item.RevisionID == revisionID {
			return i
		}
	}
	return -1
}

func (q *Queue) findHistoryLocked(revisionID int64) int {
	for i, item := range q.history {
		if item.RevisionID == revisionID {
			return i
		}
	}
	return -1
}

func (q *Queue) findAnywhereLocked(revisionID int64) *WorkItem {
	if i := q.findActiveLocked(revisionID); i >= 0 {
		return q.active[i]
	}
	if i := q.findHistoryLocked(revisionID); i >= 0 {
		return q.history[i]
	}
	return nil
}

func (q *Queue) observeDepthLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Depth.Set(float64(len(q.active)))
	q.metrics.HistoryDepth.Set(float64(len(q.history)))
}

func (q *Queue) notifyChanged() {
	if q.cb.OnQueueChanged == nil {
		return
	}
	q.mu.Lock()
	items := q.snapshotLocked()
	var cursor *WorkItem
	if item := q.cursorItemLocked(); item != nil {
		cursor = item.clone()
	}
	q.mu.Unlock()
	q.cb.OnQueueChanged(items, cursor)
}

func (q *Queue) notifyRemoved(revisionID int64) {
	if q.cb.OnItemRemoved != nil {
		q.cb.OnItemRemoved(revisionID)
	}
}

func (q *Queue) notifyLeft(item *WorkItem) {
	if q.cb.OnItemLeft != nil {
		q.cb.OnItemLeft(item)
	}
}
