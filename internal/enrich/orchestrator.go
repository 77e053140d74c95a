// Package enrich orchestrates asynchronous AI scoring of work items: a
// bounded response cache, a single shared rate-limit watermark, and per-item
// cooperative cancellation.
package enrich

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/patrol/internal/classify"
	"github.com/linnemanlabs/patrol/internal/queue"
)

// token is one in-flight request's cancellation handle. Stored by pointer so
// a superseded request can tell its map entry was replaced.
type token struct {
	cancel context.CancelFunc
}

// Orchestrator issues scoring requests without blocking ingestion. A nil
// provider disables enrichment entirely: every call returns nil.
type Orchestrator struct {
	provider classify.Provider
	logger   log.Logger
	metrics  *Metrics

	editCache *lru.Cache[int64, *classify.EditVerdict]
	nameCache *lru.Cache[string, *classify.NameVerdict]

	// limiter is the single shared watermark: at most one dispatch per
	// minimum interval across both request kinds.
	limiter *rate.Limiter

	mu           sync.Mutex
	editInflight map[int64]*token
	nameInflight map[int64]*token
}

// New creates an orchestrator. cacheSize bounds each response cache
// (oldest-evicted); minInterval is the global minimum time between classifier
// dispatches.
func New(provider classify.Provider, cacheSize int, minInterval time.Duration, logger log.Logger, m *Metrics) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	editCache, _ := lru.New[int64, *classify.EditVerdict](cacheSize)
	nameCache, _ := lru.New[string, *classify.NameVerdict](cacheSize)
	return &Orchestrator{
		provider:     provider,
		logger:       logger,
		metrics:      m,
		editCache:    editCache,
		nameCache:    nameCache,
		limiter:      rate.NewLimiter(rate.Every(minInterval), 1),
		editInflight: make(map[int64]*token),
		nameInflight: make(map[int64]*token),
	}
}

// Enabled reports whether a classifier is configured.
func (o *Orchestrator) Enabled() bool { return o.provider != nil }

// Enrich scores one work item. It returns nil when enrichment is disabled or
// the request was cancelled (both normal outcomes, not errors), a cached
// verdict when one exists, and a degraded verdict on any other failure. It
// never returns an error and never blocks pure computation, only network.
func (o *Orchestrator) Enrich(ctx context.Context, item *queue.WorkItem) *classify.EditVerdict {
	if o.provider == nil {
		o.count("edit", "disabled")
		return nil
	}
	if v, ok := o.editCache.Get(item.RevisionID); ok {
		o.count("edit", "cached")
		return v
	}

	reqCtx, tok := o.claim(o.editInflight, "edit", item.RevisionID, ctx)
	defer o.release(o.editInflight, item.RevisionID, tok)

	L := o.logger.With(
		"request_id", ulid.Make().String(),
		"revision", item.RevisionID,
		"page", item.Page.Title,
	)

	if !o.waitTurn(reqCtx) {
		o.count("edit", "cancelled")
		return nil
	}

	req := classify.NewEditRequest(editContext(item))
	raw, err := o.provider.Send(reqCtx, req)
	if reqCtx.Err() != nil {
		// Cancelled during or after the call: do not cache, not an error.
		o.count("edit", "cancelled")
		return nil
	}
	if err != nil {
		L.Warn(reqCtx, "classifier call failed, returning degraded verdict", "error", err.Error())
		o.count("edit", "degraded")
		return classify.DegradedEditVerdict(err)
	}

	verdict := classify.DecodeEditVerdict(raw)
	if verdict.Degraded {
		o.count("edit", "recovered")
	} else {
		o.count("edit", "ok")
	}
	o.editCache.Add(item.RevisionID, verdict)

	L.Info(reqCtx, "edit scored",
		"has_issues", verdict.HasIssues,
		"probability", verdict.Probability,
		"confidence", verdict.Confidence,
		"action", verdict.RecommendedAction,
	)
	return verdict
}

// ClassifyAuthorName checks an author name against username policy. The
// cache is namespaced by username; cancellation is keyed by the revision that
// triggered the check, so Cancel(revisionID) aborts both requests for an
// item.
func (o *Orchestrator) ClassifyAuthorName(ctx context.Context, revisionID int64, name, pageContext string) *classify.NameVerdict {
	if o.provider == nil {
		o.count("name", "disabled")
		return nil
	}
	if v, ok := o.nameCache.Get(name); ok {
		o.count("name", "cached")
		return v
	}

	reqCtx, tok := o.claim(o.nameInflight, "name", revisionID, ctx)
	defer o.release(o.nameInflight, revisionID, tok)

	if !o.waitTurn(reqCtx) {
		o.count("name", "cancelled")
		return nil
	}

	raw, err := o.provider.Send(reqCtx, classify.NewNameRequest(name, pageContext))
	if reqCtx.Err() != nil {
		o.count("name", "cancelled")
		return nil
	}
	if err != nil {
		o.logger.Warn(reqCtx, "name check failed", "author", name, "error", err.Error())
		o.count("name", "degraded")
		return &classify.NameVerdict{Category: "none", Confidence: classify.ConfidenceLow, Reasoning: err.Error()}
	}

	verdict := classify.DecodeNameVerdict(raw)
	o.nameCache.Add(name, verdict)
	o.count("name", "ok")
	return verdict
}

// Cancel aborts the in-flight requests for one revision. Calling it with no
// request outstanding is a no-op.
func (o *Orchestrator) Cancel(revisionID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.editInflight[revisionID]; ok {
		t.cancel()
		delete(o.editInflight, revisionID)
	}
	if t, ok := o.nameInflight[revisionID]; ok {
		t.cancel()
		delete(o.nameInflight, revisionID)
	}
}

// CancelAll aborts every in-flight request. Used when the queue is cleared
// or the classifier is reconfigured.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for rev, t := range o.editInflight {
		t.cancel()
		delete(o.editInflight, rev)
	}
	for rev, t := range o.nameInflight {
		t.cancel()
		delete(o.nameInflight, rev)
	}
}

// claim registers a fresh cancellation token for a key, superseding (and
// cancelling) any request already in flight for it. The returned context is
// detached from the caller's cancellation: queue departure, not poll-loop
// lifecycle, decides when enrichment stops.
func (o *Orchestrator) claim(inflight map[int64]*token, kind string, key int64, ctx context.Context) (context.Context, *token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := inflight[key]; ok {
		prev.cancel()
		o.count(kind, "superseded")
	}
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tok := &token{cancel: cancel}
	inflight[key] = tok
	return reqCtx, tok
}

// release drops a token from the in-flight map, unless a superseding request
// already replaced it.
func (o *Orchestrator) release(inflight map[int64]*token, key int64, tok *token) {
	o.mu.Lock()
	if inflight[key] == tok {
		delete(inflight, key)
	}
	o.mu.Unlock()
	tok.cancel()
}

// waitTurn blocks until the shared watermark passes, returning false if the
// request was cancelled while waiting.
func (o *Orchestrator) waitTurn(ctx context.Context) bool {
	start := time.Now()
	err := o.limiter.Wait(ctx)
	if o.metrics != nil {
		o.metrics.WaitSeconds.Observe(time.Since(start).Seconds())
	}
	return err == nil
}

func (o *Orchestrator) count(kind, outcome string) {
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// editContext flattens a work item into the classifier's input.
func editContext(item *queue.WorkItem) *classify.EditContext {
	return &classify.EditContext{
		Title:            item.Page.Title,
		Namespace:        item.Namespace,
		Comment:          item.Comment,
		Diff:             item.Diff,
		Tags:             item.Tags,
		SizeDelta:        item.ChangeSize,
		Minor:            item.Minor,
		Author:           item.Author.Name,
		AuthorEditCount:  item.Author.EditCount,
		AuthorCountKnown: item.Author.EditCountKnown,
		WarningLevel:     item.Author.Level.String(),
		Categories:       item.Page.Categories,
		BLP:              item.BLP,
	}
}
