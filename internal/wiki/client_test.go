package wiki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// newAPIServer returns a test server that records query parameters and
// responds with the given JSON body.
func newAPIServer(t *testing.T, body string) (*httptest.Server, *url.Values) {
	t.Helper()

	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestPollChanges(t *testing.T) {
	t.Parallel()

	// The API returns newest first; the client reverses and drops entries at
	// or below sinceID.
	body := `{"query":{"recentchanges":[
		{"revid":103,"old_revid":102,"title":"Sandbox","ns":0,"user":"Alice","comment":"tweak","minor":true,"oldlen":100,"newlen":90,"tags":["mobile edit"],"timestamp":"2026-08-29T10:00:00Z"},
		{"revid":101,"old_revid":100,"title":"Go","ns":0,"user":"Bob","comment":"expand","bot":false,"oldlen":50,"newlen":200,"timestamp":"2026-08-29T09:00:00Z"},
		{"revid":99,"old_revid":98,"title":"Old","ns":0,"user":"Carol","timestamp":"2026-08-29T08:00:00Z"}
	]}}`
	srv, params := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "patrol-test/1.0")

	entries, err := c.PollChanges(context.Background(), []int{0, 3}, 100)
	if err != nil {
		t.Fatalf("PollChanges: %v", err)
	}

	if got := params.Get("rcnamespace"); got != "0|3" {
		t.Errorf("rcnamespace = %q, want %q", got, "0|3")
	}
	if got := params.Get("action"); got != "query" {
		t.Errorf("action = %q, want %q", got, "query")
	}

	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].RevisionID != 101 || entries[1].RevisionID != 103 {
		t.Errorf("entries not oldest first: got revs [%d %d]", entries[0].RevisionID, entries[1].RevisionID)
	}

	first := entries[0]
	if first.Title != "Go" || first.User != "Bob" || first.OldRevisionID != 100 {
		t.Errorf("entry = %+v", first)
	}
	if first.SizeDelta != 150 {
		t.Errorf("SizeDelta = %d, want 150", first.SizeDelta)
	}
	if entries[1].SizeDelta != -10 {
		t.Errorf("SizeDelta = %d, want -10", entries[1].SizeDelta)
	}
	if !entries[1].Minor {
		t.Error("Minor flag lost")
	}
	want := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", first.Timestamp, want)
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()

	body := `{"query":{"users":[
		{"name":"Alice","editcount":1234},
		{"name":"Blocked","editcount":7,"blockid":42},
		{"name":"Ghost","missing":true}
	]}}`
	srv, params := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	users, err := c.Users(context.Background(), []string{"Alice", "Blocked", "Ghost", "203.0.113.7"})
	if err != nil {
		t.Fatalf("Users: %v", err)
	}

	if got := params.Get("ususers"); got != "Alice|Blocked|Ghost|203.0.113.7" {
		t.Errorf("ususers = %q", got)
	}

	alice := users["Alice"]
	if !alice.Known || alice.EditCount != 1234 || alice.Blocked {
		t.Errorf("Alice = %+v", alice)
	}
	if !users["Blocked"].Blocked {
		t.Error("block status lost")
	}
	if users["Ghost"].Known {
		t.Error("missing user reported as known")
	}
	anon, ok := users["203.0.113.7"]
	if !ok || anon.Known {
		t.Errorf("anonymous user = %+v, ok = %v, want unknown placeholder", anon, ok)
	}
}

func TestUsers_EmptyBatch(t *testing.T) {
	t.Parallel()

	c := NewHTTPClient("http://127.0.0.1:0", "", "enwiki", "")
	users, err := c.Users(context.Background(), nil)
	if err != nil {
		t.Fatalf("Users(nil) = %v, want no request", err)
	}
	if len(users) != 0 {
		t.Errorf("len(users) = %d, want 0", len(users))
	}
}

func TestTalkPageText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"existing page",
			`{"query":{"pages":[{"title":"User talk:Alice","revisions":[{"slots":{"main":{"content":"== Warning ==\n{{uw-vandalism2}}"}}}]}]}}`,
			"== Warning ==\n{{uw-vandalism2}}",
		},
		{
			"missing page",
			`{"query":{"pages":[{"title":"User talk:Alice","missing":true}]}}`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, params := newAPIServer(t, tt.body)
			c := NewHTTPClient(srv.URL, "", "enwiki", "")

			got, err := c.TalkPageText(context.Background(), "Alice")
			if err != nil {
				t.Fatalf("TalkPageText: %v", err)
			}
			if got != tt.want {
				t.Errorf("TalkPageText = %q, want %q", got, tt.want)
			}
			if titles := params.Get("titles"); titles != "User talk:Alice" {
				t.Errorf("titles = %q", titles)
			}
		})
	}
}

func TestPageMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		lang       string
		wantFormat string
	}{
		{"english", "en", "mdy"},
		{"english variant", "en-gb", "mdy"},
		{"german", "de", "dmy"},
		{"unknown", "", "dmy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body := `{"query":{"pages":[{"title":"Sandbox","pagelanguage":"` + tt.lang + `"}]}}`
			srv, _ := newAPIServer(t, body)
			c := NewHTTPClient(srv.URL, "", "enwiki", "")

			meta, err := c.PageMetadata(context.Background(), "Sandbox")
			if err != nil {
				t.Fatalf("PageMetadata: %v", err)
			}
			if meta.DateFormat != tt.wantFormat {
				t.Errorf("DateFormat = %q, want %q", meta.DateFormat, tt.wantFormat)
			}
			if meta.LanguageVariant != tt.lang {
				t.Errorf("LanguageVariant = %q, want %q", meta.LanguageVariant, tt.lang)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	body := `{"compare":{"body":"<tr><td>-old</td><td>+new</td></tr>"}}`
	srv, params := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	diff, err := c.Diff(context.Background(), 100, 101)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "+new") {
		t.Errorf("diff = %q", diff)
	}
	if params.Get("action") != "compare" || params.Get("fromrev") != "100" || params.Get("torev") != "101" {
		t.Errorf("params = %v", *params)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	body := `{"query":{"pages":[{"title":"Sandbox","revisions":[
		{"revid":103,"parentid":102,"user":"Alice","comment":"third","timestamp":"2026-08-29T10:00:00Z"},
		{"revid":102,"parentid":101,"user":"Alice","comment":"second","minor":true,"timestamp":"2026-08-29T09:00:00Z"}
	]}]}}`
	srv, _ := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	revs, err := c.History(context.Background(), "Sandbox")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("len(revs) = %d, want 2", len(revs))
	}
	if revs[0].RevisionID != 103 || revs[0].Title != "Sandbox" || revs[0].User != "Alice" {
		t.Errorf("revs[0] = %+v", revs[0])
	}
	if !revs[1].Minor {
		t.Error("Minor flag lost")
	}
}

func TestContributions(t *testing.T) {
	t.Parallel()

	body := `{"query":{"usercontribs":[
		{"revid":200,"parentid":199,"title":"Go","user":"Bob","comment":"Reverted edits by Vandal","timestamp":"2026-08-29T10:00:00Z"},
		{"revid":180,"parentid":179,"title":"Sandbox","user":"Bob","comment":"copyedit","timestamp":"2026-08-29T08:00:00Z"}
	]}}`
	srv, params := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	contribs, err := c.Contributions(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Contributions: %v", err)
	}
	if got := params.Get("ucuser"); got != "Bob" {
		t.Errorf("ucuser = %q", got)
	}
	if len(contribs) != 2 {
		t.Fatalf("len(contribs) = %d, want 2", len(contribs))
	}
	if contribs[0].RevisionID != 200 || contribs[0].Title != "Go" {
		t.Errorf("contribs[0] = %+v", contribs[0])
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	body := `{"query":{"pages":[{"title":"Jane Doe","categories":[
		{"title":"Category:Living people"},
		{"title":"Category:1980 births"}
	]}]}}`
	srv, params := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	cats, err := c.Categories(context.Background(), 101)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if got := params.Get("revids"); got != "101" {
		t.Errorf("revids = %q", got)
	}
	if len(cats) != 2 || cats[0] != "Living people" || cats[1] != "1980 births" {
		t.Errorf("Categories = %v, want prefix-trimmed titles", cats)
	}
}

func TestLatestRevisionIDs(t *testing.T) {
	t.Parallel()

	body := `{"query":{"pages":[
		{"title":"Sandbox","lastrevid":105},
		{"title":"Go","lastrevid":201}
	]}}`
	srv, _ := newAPIServer(t, body)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	latest, err := c.LatestRevisionIDs(context.Background(), []string{"Sandbox", "Go"})
	if err != nil {
		t.Fatalf("LatestRevisionIDs: %v", err)
	}
	if latest["Sandbox"] != 105 || latest["Go"] != 201 {
		t.Errorf("latest = %v", latest)
	}
}

func TestPriorityScores(t *testing.T) {
	t.Parallel()

	body := `{"enwiki":{"scores":{
		"101":{"damaging":{"score":{"probability":{"true":0.91,"false":0.09}}}},
		"102":{"damaging":{"score":{"probability":{"true":0.12,"false":0.88}}}},
		"bogus":{"damaging":{"score":{"probability":{"true":0.5}}}}
	}}}`
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient("http://unused.invalid", srv.URL, "enwiki", "")
	scores, err := c.PriorityScores(context.Background(), []int64{101, 102})
	if err != nil {
		t.Fatalf("PriorityScores: %v", err)
	}
	if gotPath != "/v3/scores/enwiki" {
		t.Errorf("path = %q, want %q", gotPath, "/v3/scores/enwiki")
	}
	if len(scores) != 2 {
		t.Fatalf("len(scores) = %d, want 2", len(scores))
	}
	if scores[101] != 0.91 || scores[102] != 0.12 {
		t.Errorf("scores = %v", scores)
	}
}

func TestPriorityScores_NoEndpoint(t *testing.T) {
	t.Parallel()

	c := NewHTTPClient("http://unused.invalid", "", "enwiki", "")
	scores, err := c.PriorityScores(context.Background(), []int64{101})
	if err != nil {
		t.Fatalf("PriorityScores = %v, want no request without an endpoint", err)
	}
	if len(scores) != 0 {
		t.Errorf("scores = %v, want empty", scores)
	}
}

func TestRequest_APIError(t *testing.T) {
	t.Parallel()

	srv, _ := newAPIServer(t, `{"error":{"code":"maxlag","info":"Waiting for replication"}}`)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	_, err := c.PollChanges(context.Background(), nil, 0)
	if err == nil {
		t.Fatal("PollChanges = nil error, want api error")
	}
	if !strings.Contains(err.Error(), "maxlag") {
		t.Errorf("err = %v, want mention of error code", err)
	}
}

func TestRequest_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, "", "enwiki", "")

	_, err := c.History(context.Background(), "Sandbox")
	if err == nil {
		t.Fatal("History = nil error, want status error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestGet_SetsUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"query":{}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(srv.URL, "", "enwiki", "patrol/1.2.3")
	if _, err := c.PollChanges(context.Background(), nil, 0); err != nil {
		t.Fatalf("PollChanges: %v", err)
	}
	if gotUA != "patrol/1.2.3" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "patrol/1.2.3")
	}
}
