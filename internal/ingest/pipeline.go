// Package ingest polls the recent-changes feed, filters entries down to
// candidate work items, and admits them into the triage queue.
package ingest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/patrol/internal/enrich"
	"github.com/linnemanlabs/patrol/internal/queue"
	"github.com/linnemanlabs/patrol/internal/seen"
	"github.com/linnemanlabs/patrol/internal/warnparse"
	"github.com/linnemanlabs/patrol/internal/wiki"
)

// Config carries the pipeline's filter thresholds and poll cadence.
type Config struct {
	// Namespaces to watch; empty means the main namespace only.
	Namespaces []int

	// RefreshInterval is the base poll cadence and the backoff floor.
	// MaxRefreshInterval caps the backoff after consecutive failures.
	RefreshInterval    time.Duration
	MaxRefreshInterval time.Duration

	// MaxEditCount drops edits by established authors. Boosted authors and
	// anonymous or temporary accounts bypass it.
	MaxEditCount int64

	// MinScore is the admission floor for the external priority score.
	// Boosted authors bypass it.
	MinScore float64

	// ExcludedAuthors are never admitted, boosted or not.
	ExcludedAuthors []string

	// Operator is the reviewing account, used to count its reverts over the
	// last 24 hours. Empty disables the count.
	Operator string
}

// Pipeline converts raw feed entries into admitted work items. One Run loop
// owns the feed cursor; enrichment lookups run as detached goroutines.
type Pipeline struct {
	client   wiki.Client
	queue    *queue.Queue
	enricher *enrich.Orchestrator
	ledger   seen.Store // optional durable dedup, nil to disable
	logger   log.Logger
	metrics  *Metrics
	cfg      Config

	// onStatus reports feed health transitions to the presentation layer.
	// Called with true once backoff reaches its ceiling, false on recovery.
	onStatus func(degraded bool)

	excluded map[string]struct{}

	mu       sync.Mutex
	boosted  map[string]struct{}
	sinceID  int64
	interval time.Duration
	failures int
	degraded bool

	now func() time.Time
}

// New creates a pipeline. ledger and onStatus may be nil.
func New(client wiki.Client, q *queue.Queue, enricher *enrich.Orchestrator, ledger seen.Store, cfg Config, onStatus func(bool), logger log.Logger, m *Metrics) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.MaxRefreshInterval < cfg.RefreshInterval {
		cfg.MaxRefreshInterval = 8 * cfg.RefreshInterval
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []int{0}
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedAuthors))
	for _, name := range cfg.ExcludedAuthors {
		excluded[name] = struct{}{}
	}
	return &Pipeline{
		client:   client,
		queue:    q,
		enricher: enricher,
		ledger:   ledger,
		logger:   logger,
		metrics:  m,
		cfg:      cfg,
		onStatus: onStatus,
		excluded: excluded,
		boosted:  make(map[string]struct{}),
		interval: cfg.RefreshInterval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Poll failures slow the cadence down;
// they never stop the loop.
func (p *Pipeline) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn(ctx, "poll failed", "error", err.Error(), "retry_in", p.RetryInterval().String())
		}
		timer.Reset(p.RetryInterval())
	}
}

// Poll runs one ingestion cycle: fetch, staleness sweep, filter, admit,
// staleness sweep again. Per-entry resolution failures degrade to defaults;
// only the feed fetch itself returns an error.
func (p *Pipeline) Poll(ctx context.Context) error {
	entries, err := p.client.PollChanges(ctx, p.cfg.Namespaces, p.since())
	if err != nil {
		p.recordFailure()
		p.countPoll("error")
		return err
	}
	p.recordSuccess()
	p.countPoll("ok")
	p.advanceCursor(entries)

	// Supersession within the batch itself: a newer revision for a page
	// evicts older queued items before anything new is admitted.
	p.queue.RemoveStale(latestByTitle(entries))

	if p.queue.AtCapacity() {
		p.disposeAll(entries, "capacity_deferred")
		return nil
	}

	candidates := p.prefilter(ctx, entries)
	if len(candidates) == 0 {
		return nil
	}

	users := p.resolveUsers(ctx, candidates)
	candidates = p.filterByEditCount(candidates, users)
	if len(candidates) == 0 {
		return nil
	}

	talk := p.resolveTalkPages(ctx, candidates)
	scores := p.resolveScores(ctx, candidates)
	revertsToday := p.operatorRevertsToday(ctx)

	admittedTitles := false
	for _, entry := range candidates {
		if p.queue.AtCapacity() {
			p.dispose(entry, "capacity_deferred")
			continue
		}
		score := scores[entry.RevisionID]
		if score < p.cfg.MinScore && !p.IsBoosted(entry.User) {
			p.dispose(entry, "below_min_score")
			continue
		}
		item := p.buildItem(ctx, entry, users[entry.User], talk[entry.User], score, revertsToday)
		if !p.queue.Admit(item) {
			p.dispose(entry, "rejected")
			continue
		}
		p.dispose(entry, "admitted")
		admittedTitles = true
		p.remember(ctx, entry.RevisionID)
		p.spawnEnrichment(ctx, item)
	}

	if admittedTitles {
		p.recheckStaleness(ctx)
	}
	return nil
}

// prefilter drops what needs no collaborator round-trip: bot edits, excluded
// authors, and revisions already known to the queue or the dedup ledger.
func (p *Pipeline) prefilter(ctx context.Context, entries []wiki.FeedEntry) []wiki.FeedEntry {
	out := entries[:0:0]
	for _, entry := range entries {
		switch {
		case entry.Bot:
			p.dispose(entry, "bot")
		case p.isExcluded(entry.User):
			p.dispose(entry, "excluded")
		case p.queue.Has(entry.RevisionID):
			p.dispose(entry, "duplicate")
		case p.seenBefore(ctx, entry.RevisionID):
			p.dispose(entry, "seen")
		default:
			out = append(out, entry)
		}
	}
	return out
}

func (p *Pipeline) resolveUsers(ctx context.Context, entries []wiki.FeedEntry) map[string]wiki.UserInfo {
	users, err := p.client.Users(ctx, usernames(entries))
	if err != nil {
		p.logger.Warn(ctx, "user lookup failed, treating edit counts as unknown", "error", err.Error())
		return map[string]wiki.UserInfo{}
	}
	return users
}

func (p *Pipeline) filterByEditCount(entries []wiki.FeedEntry, users map[string]wiki.UserInfo) []wiki.FeedEntry {
	out := entries[:0:0]
	for _, entry := range entries {
		info := users[entry.User]
		established := info.Known && info.EditCount > p.cfg.MaxEditCount
		if established && !p.IsBoosted(entry.User) && !exemptAccount(entry.User) {
			p.dispose(entry, "over_threshold")
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (p *Pipeline) resolveTalkPages(ctx context.Context, entries []wiki.FeedEntry) map[string]string {
	talk := make(map[string]string, len(entries))
	for _, name := range usernames(entries) {
		text, err := p.client.TalkPageText(ctx, name)
		if err != nil {
			p.logger.Warn(ctx, "talk page fetch failed, assuming level 0", "user", name, "error", err.Error())
			continue
		}
		talk[name] = text
	}
	return talk
}

func (p *Pipeline) resolveScores(ctx context.Context, entries []wiki.FeedEntry) map[int64]float64 {
	revs := make([]int64, len(entries))
	for i, entry := range entries {
		revs[i] = entry.RevisionID
	}
	scores, err := p.client.PriorityScores(ctx, revs)
	if err != nil {
		p.logger.Warn(ctx, "priority score fetch failed, scoring batch as zero", "error", err.Error())
		return map[int64]float64{}
	}
	return scores
}

// buildItem assembles a work item from fresh page and user detail. Each
// lookup degrades to a zero value on failure so one bad call cannot sink the
// whole entry.
func (p *Pipeline) buildItem(ctx context.Context, entry wiki.FeedEntry, info wiki.UserInfo, talkText string, score float64, revertsToday int) *queue.WorkItem {
	history, err := p.client.History(ctx, entry.Title)
	if err != nil {
		p.logger.Warn(ctx, "history fetch failed", "page", entry.Title, "error", err.Error())
	}
	diff, err := p.client.Diff(ctx, entry.OldRevisionID, entry.RevisionID)
	if err != nil {
		p.logger.Warn(ctx, "diff fetch failed", "revision", entry.RevisionID, "error", err.Error())
	}
	categories, err := p.client.Categories(ctx, entry.RevisionID)
	if err != nil {
		p.logger.Warn(ctx, "category fetch failed", "revision", entry.RevisionID, "error", err.Error())
	}
	meta, err := p.client.PageMetadata(ctx, entry.Title)
	if err != nil {
		p.logger.Warn(ctx, "page metadata fetch failed", "page", entry.Title, "error", err.Error())
	}

	level := warnparse.Parse(talkText, p.now())
	return &queue.WorkItem{
		RevisionID:    entry.RevisionID,
		OldRevisionID: entry.OldRevisionID,
		Namespace:     entry.Namespace,
		Page: queue.Page{
			Title:      entry.Title,
			History:    history,
			Categories: categories,
			Meta:       meta,
		},
		Author: queue.Author{
			Name:             entry.User,
			EditCount:        info.EditCount,
			EditCountKnown:   info.Known,
			Level:            level,
			LevelAtAdmission: level,
			Blocked:          info.Blocked,
			TalkEmpty:        strings.TrimSpace(talkText) == "",
		},
		ChangeSize:       entry.SizeDelta,
		Comment:          entry.Comment,
		Minor:            entry.Minor,
		Tags:             entry.Tags,
		Diff:             diff,
		Score:            score,
		Boosted:          p.IsBoosted(entry.User),
		RevertsToday:     revertsToday,
		BLP:              isBLP(categories),
		ConsecutiveEdits: -1,
		AdmittedAt:       p.now(),
	}
}

// spawnEnrichment kicks off the asynchronous lookups for a freshly admitted
// item. The goroutines outlive the poll cycle; queue departure cancels the
// classifier calls through the orchestrator.
func (p *Pipeline) spawnEnrichment(ctx context.Context, item *queue.WorkItem) {
	bg := context.WithoutCancel(ctx)
	rev := item.RevisionID

	go func() {
		if v := p.enricher.Enrich(bg, item); v != nil {
			p.queue.ApplyEnrichment(rev, v)
		}
	}()
	go func() {
		if v := p.enricher.ClassifyAuthorName(bg, rev, item.Author.Name, item.Page.Title); v != nil {
			p.queue.ApplyNameVerdict(rev, v)
		}
	}()
	author := item.Author.Name
	title := item.Page.Title
	go func() {
		history, err := p.client.History(bg, title)
		if err != nil {
			return
		}
		p.queue.ApplyConsecutiveEdits(rev, consecutiveEdits(history, author))
	}()
}

// recheckStaleness sweeps the queue against authoritative latest revisions,
// catching supersessions that happened while this cycle was admitting.
func (p *Pipeline) recheckStaleness(ctx context.Context) {
	titles := activeTitles(p.queue.Items())
	if len(titles) == 0 {
		return
	}
	latest, err := p.client.LatestRevisionIDs(ctx, titles)
	if err != nil {
		p.logger.Warn(ctx, "latest revision lookup failed, skipping staleness recheck", "error", err.Error())
		return
	}
	if removed := p.queue.RemoveStale(latest); len(removed) > 0 {
		p.logger.Info(ctx, "removed superseded items", "count", len(removed))
	}
}

// operatorRevertsToday counts the reviewing account's reverts in the last
// 24 hours. Zero when unconfigured or on lookup failure.
func (p *Pipeline) operatorRevertsToday(ctx context.Context) int {
	if p.cfg.Operator == "" {
		return 0
	}
	contribs, err := p.client.Contributions(ctx, p.cfg.Operator)
	if err != nil {
		p.logger.Warn(ctx, "operator contributions fetch failed", "error", err.Error())
		return 0
	}
	cutoff := p.now().Add(-24 * time.Hour)
	n := 0
	for _, c := range contribs {
		if c.Timestamp.Before(cutoff) {
			continue
		}
		if isRevert(c.Comment) {
			n++
		}
	}
	return n
}

// BoostAuthor puts an author under (or releases them from) the operator
// spotlight: their items outrank everything unboosted and they bypass the
// edit-count and score filters.
func (p *Pipeline) BoostAuthor(name string, boosted bool) {
	p.mu.Lock()
	if boosted {
		p.boosted[name] = struct{}{}
	} else {
		delete(p.boosted, name)
	}
	p.mu.Unlock()
	p.queue.SetBoosted(name, boosted)
}

// IsBoosted reports whether an author is currently spotlighted.
func (p *Pipeline) IsBoosted(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.boosted[name]
	return ok
}

// RetryInterval is the delay before the next poll: the refresh interval
// after a success, doubled per consecutive failure up to the ceiling.
func (p *Pipeline) RetryInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Degraded reports whether backoff has reached its ceiling.
func (p *Pipeline) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// recordFailure sets the next retry delay. The first failure retries at the
// base interval; each further consecutive failure doubles the delay up to
// the ceiling, at which point the feed is reported degraded.
func (p *Pipeline) recordFailure() {
	p.mu.Lock()
	if p.failures > 0 {
		p.interval *= 2
	}
	p.failures++
	if p.interval >= p.cfg.MaxRefreshInterval {
		p.interval = p.cfg.MaxRefreshInterval
		if !p.degraded {
			p.degraded = true
			p.notifyStatusLocked(true)
		}
	}
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RetryInterval.Set(p.RetryInterval().Seconds())
	}
}

func (p *Pipeline) recordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.interval = p.cfg.RefreshInterval
	if p.degraded {
		p.degraded = false
		p.notifyStatusLocked(false)
	}
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RetryInterval.Set(p.cfg.RefreshInterval.Seconds())
	}
}

// notifyStatusLocked fires the status callback without holding the lock
// across arbitrary collaborator code.
func (p *Pipeline) notifyStatusLocked(degraded bool) {
	if p.onStatus == nil {
		return
	}
	go p.onStatus(degraded)
}

func (p *Pipeline) since() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinceID
}

func (p *Pipeline) advanceCursor(entries []wiki.FeedEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range entries {
		if entry.RevisionID > p.sinceID {
			p.sinceID = entry.RevisionID
		}
	}
}

func (p *Pipeline) isExcluded(name string) bool {
	_, ok := p.excluded[name]
	return ok
}

func (p *Pipeline) seenBefore(ctx context.Context, revisionID int64) bool {
	if p.ledger == nil {
		return false
	}
	ok, err := p.ledger.Seen(ctx, revisionID)
	if err != nil {
		p.logger.Warn(ctx, "dedup ledger read failed", "revision", revisionID, "error", err.Error())
		return false
	}
	return ok
}

func (p *Pipeline) remember(ctx context.Context, revisionID int64) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Mark(ctx, revisionID); err != nil {
		p.logger.Warn(ctx, "dedup ledger write failed", "revision", revisionID, "error", err.Error())
	}
}

func (p *Pipeline) dispose(_ wiki.FeedEntry, disposition string) {
	if p.metrics != nil {
		p.metrics.EntriesTotal.WithLabelValues(disposition).Inc()
	}
}

func (p *Pipeline) disposeAll(entries []wiki.FeedEntry, disposition string) {
	for _, entry := range entries {
		p.dispose(entry, disposition)
	}
}

func (p *Pipeline) countPoll(outcome string) {
	if p.metrics != nil {
		p.metrics.PollsTotal.WithLabelValues(outcome).Inc()
	}
}

// exemptAccount reports whether an account type bypasses the edit-count
// threshold: anonymous (IP-named) and temporary ("~"-prefixed) accounts.
func exemptAccount(name string) bool {
	return strings.HasPrefix(name, "~") || looksLikeIP(name)
}

func looksLikeIP(name string) bool {
	if strings.Count(name, ".") == 3 {
		return strings.IndexFunc(name, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.'
		}) == -1
	}
	return strings.Contains(name, ":") // IPv6
}

// latestByTitle reduces a feed batch to the newest revision per page.
func latestByTitle(entries []wiki.FeedEntry) map[string]int64 {
	latest := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if entry.RevisionID > latest[entry.Title] {
			latest[entry.Title] = entry.RevisionID
		}
	}
	return latest
}

func usernames(entries []wiki.FeedEntry) []string {
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		set[entry.User] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func activeTitles(items []*queue.WorkItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.Page.Title] = struct{}{}
	}
	titles := make([]string, 0, len(set))
	for title := range set {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}

// consecutiveEdits counts how many of the newest revisions in a page history
// were made by the same author, newest first.
func consecutiveEdits(history []wiki.RevisionSummary, author string) int {
	n := 0
	for _, rev := range history {
		if rev.User != author {
			break
		}
		n++
	}
	return n
}

func isBLP(categories []string) bool {
	for _, c := range categories {
		if strings.Contains(strings.ToLower(c), "living people") {
			return true
		}
	}
	return false
}

func isRevert(comment string) bool {
	c := strings.ToLower(comment)
	return strings.Contains(c, "revert") || strings.Contains(c, "rollback") || strings.HasPrefix(c, "undid ")
}
