// Package queueapi exposes the triage queue to the operator frontend: read
// the working set, navigate the cursor, discard items, and manage author
// policy (boosts and issued warnings).
package queueapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/patrol/internal/queue"
	"github.com/linnemanlabs/patrol/internal/warnparse"
)

// Feed is the slice of the ingestion pipeline the API needs: author policy
// and feed health.
type Feed interface {
	BoostAuthor(name string, boosted bool)
	IsBoosted(name string) bool
	Degraded() bool
	RetryInterval() time.Duration
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	queue  *queue.Queue
	feed   Feed
}

// New creates a new API handler.
func New(logger log.Logger, q *queue.Queue, feed Feed) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if q == nil {
		panic(xerrors.New("queue is required"))
	}
	if feed == nil {
		panic(xerrors.New("feed is required"))
	}
	return &API{logger: logger, queue: q, feed: feed}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", a.handleGetQueue)
		r.Get("/queue/current", a.handleGetCurrent)
		r.Get("/status", a.handleGetStatus)
		r.Post("/queue/advance", a.handleAdvance)
		r.Post("/queue/retreat", a.handleRetreat)
		r.Post("/queue/clear", a.handleClear)
		r.Delete("/queue/items/{revisionID}", a.handleDiscard)
		r.Post("/authors/{name}/boost", a.handleBoost)
		r.Post("/authors/{name}/warned", a.handleWarned)
	})
}

func (a *API) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	items := a.queue.Items()
	var cursorRev int64
	if cur := a.queue.Cursor(); cur != nil {
		cursorRev = cur.RevisionID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":           items,
		"cursor_revision": cursorRev,
	})
}

func (a *API) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	cur := a.queue.Cursor()
	if cur == nil {
		http.Error(w, `{"error":"queue is empty"}`, http.StatusNotFound)
		return
	}
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("patrol.revision_id", cur.RevisionID))
	writeJSON(w, http.StatusOK, cur)
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"degraded":       a.feed.Degraded(),
		"retry_interval": a.feed.RetryInterval().String(),
		"queue_depth":    a.queue.Len(),
		"history_depth":  a.queue.HistoryLen(),
	})
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	a.queue.Advance()
	a.respondWithCursor(w)
}

func (a *API) handleRetreat(w http.ResponseWriter, r *http.Request) {
	a.queue.Retreat()
	a.respondWithCursor(w)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	a.queue.Clear()
	a.logger.Info(r.Context(), "queue cleared by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDiscard(w http.ResponseWriter, r *http.Request) {
	rev, err := strconv.ParseInt(chi.URLParam(r, "revisionID"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid revision id"}`, http.StatusBadRequest)
		return
	}
	if !a.queue.Has(rev) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.queue.Discard(rev)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBoost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Boosted bool `json:"boosted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	a.feed.BoostAuthor(name, req.Boosted)
	a.logger.Info(r.Context(), "author boost changed", "author", name, "boosted", req.Boosted)
	writeJSON(w, http.StatusOK, map[string]any{"author": name, "boosted": req.Boosted})
}

// handleWarned records that the operator issued a talk-page warning, bumping
// the author's current severity level on every queued item. The level frozen
// at admission time is left alone.
func (a *API) handleWarned(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	level, ok := warnparse.FromMarker(req.Level)
	if !ok {
		http.Error(w, `{"error":"unknown warning level"}`, http.StatusBadRequest)
		return
	}
	a.queue.SetAuthorLevel(name, level)
	a.logger.Info(r.Context(), "author warning recorded", "author", name, "level", level.String())
	writeJSON(w, http.StatusOK, map[string]any{"author": name, "level": level.String()})
}

func (a *API) respondWithCursor(w http.ResponseWriter) {
	cur := a.queue.Cursor()
	if cur == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cursor": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cursor": cur})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
