package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	httpTimeout = 30 * time.Second
	maxBodySize = 5 << 20 // 5 MB

	historyLimit       = 10
	contributionsLimit = 20
	pollLimit          = 100
)

// HTTPClient talks to a MediaWiki api.php endpoint and an ORES-style scoring
// service. It implements Client.
type HTTPClient struct {
	apiEndpoint   string
	scoreEndpoint string
	scoreModel    string
	wikiID        string
	userAgent     string
	httpClient    *http.Client
}

// NewHTTPClient creates a client for the given api.php endpoint. scoreEndpoint
// may be empty, in which case PriorityScores returns an empty map.
func NewHTTPClient(apiEndpoint, scoreEndpoint, wikiID, userAgent string) *HTTPClient {
	return &HTTPClient{
		apiEndpoint:   apiEndpoint,
		scoreEndpoint: scoreEndpoint,
		scoreModel:    "damaging",
		wikiID:        wikiID,
		userAgent:     userAgent,
		httpClient:    &http.Client{Timeout: httpTimeout},
	}
}

type apiResponse struct {
	Query struct {
		RecentChanges []rcEntry      `json:"recentchanges"`
		Users         []userEntry    `json:"users"`
		UserContribs  []contribEntry `json:"usercontribs"`
		Pages         []pageEntry    `json:"pages"`
	} `json:"query"`
	Compare struct {
		Body string `json:"body"`
	} `json:"compare"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

type rcEntry struct {
	RevID     int64    `json:"revid"`
	OldRevID  int64    `json:"old_revid"`
	Title     string   `json:"title"`
	NS        int      `json:"ns"`
	User      string   `json:"user"`
	Comment   string   `json:"comment"`
	Minor     bool     `json:"minor"`
	Bot       bool     `json:"bot"`
	OldLen    int      `json:"oldlen"`
	NewLen    int      `json:"newlen"`
	Tags      []string `json:"tags"`
	Timestamp string   `json:"timestamp"`
}

type userEntry struct {
	Name      string `json:"name"`
	EditCount *int64 `json:"editcount"`
	BlockID   int64  `json:"blockid"`
	Missing   bool   `json:"missing"`
}

type contribEntry struct {
	RevID     int64  `json:"revid"`
	ParentID  int64  `json:"parentid"`
	Title     string `json:"title"`
	User      string `json:"user"`
	Comment   string `json:"comment"`
	Minor     bool   `json:"minor"`
	Timestamp string `json:"timestamp"`
}

type pageEntry struct {
	Title      string `json:"title"`
	LastRevID  int64  `json:"lastrevid"`
	PageLang   string `json:"pagelanguage"`
	Revisions  []struct {
		RevID     int64  `json:"revid"`
		ParentID  int64  `json:"parentid"`
		User      string `json:"user"`
		Comment   string `json:"comment"`
		Minor     bool   `json:"minor"`
		Timestamp string `json:"timestamp"`
		Slots     map[string]struct {
			Content string `json:"content"`
		} `json:"slots"`
	} `json:"revisions"`
	Categories []struct {
		Title string `json:"title"`
	} `json:"categories"`
}

// PollChanges returns feed entries newer than sinceID, oldest first.
func (c *HTTPClient) PollChanges(ctx context.Context, namespaces []int, sinceID int64) ([]FeedEntry, error) {
	params := url.Values{}
	params.Set("list", "recentchanges")
	params.Set("rcprop", "ids|title|user|comment|flags|sizes|tags|timestamp")
	params.Set("rctype", "edit|new")
	params.Set("rclimit", strconv.Itoa(pollLimit))
	if len(namespaces) > 0 {
		params.Set("rcnamespace", joinInts(namespaces))
	}

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("poll changes: %w", err)
	}

	var out []FeedEntry
	for i := len(resp.Query.RecentChanges) - 1; i >= 0; i-- {
		rc := resp.Query.RecentChanges[i]
		if rc.RevID <= sinceID {
			continue
		}
		out = append(out, FeedEntry{
			RevisionID:    rc.RevID,
			OldRevisionID: rc.OldRevID,
			Title:         rc.Title,
			Namespace:     rc.NS,
			User:          rc.User,
			Comment:       rc.Comment,
			Minor:         rc.Minor,
			Bot:           rc.Bot,
			SizeDelta:     rc.NewLen - rc.OldLen,
			Tags:          rc.Tags,
			Timestamp:     parseTimestamp(rc.Timestamp),
		})
	}
	return out, nil
}

// Users resolves edit counts and block status for a batch of usernames.
// Usernames absent from the response (anonymous or missing accounts) are
// returned with Known=false.
func (c *HTTPClient) Users(ctx context.Context, usernames []string) (map[string]UserInfo, error) {
	out := make(map[string]UserInfo, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("list", "users")
	params.Set("ususers", strings.Join(usernames, "|"))
	params.Set("usprop", "editcount|blockinfo")

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	for _, u := range resp.Query.Users {
		info := UserInfo{Name: u.Name, Blocked: u.BlockID != 0}
		if !u.Missing && u.EditCount != nil {
			info.EditCount = *u.EditCount
			info.Known = true
		}
		out[u.Name] = info
	}
	for _, name := range usernames {
		if _, ok := out[name]; !ok {
			out[name] = UserInfo{Name: name}
		}
	}
	return out, nil
}

// TalkPageText fetches the wikitext of a user's talk page. A missing talk
// page returns an empty string, not an error.
func (c *HTTPClient) TalkPageText(ctx context.Context, username string) (string, error) {
	params := url.Values{}
	params.Set("prop", "revisions")
	params.Set("titles", "User talk:"+username)
	params.Set("rvprop", "content")
	params.Set("rvslots", "main")
	params.Set("rvlimit", "1")

	resp, err := c.query(ctx, params)
	if err != nil {
		return "", fmt.Errorf("talk page for %s: %w", username, err)
	}
	for _, p := range resp.Query.Pages {
		for _, rev := range p.Revisions {
			if slot, ok := rev.Slots["main"]; ok {
				return slot.Content, nil
			}
		}
	}
	return "", nil
}

// PageMetadata returns locale metadata for a page.
func (c *HTTPClient) PageMetadata(ctx context.Context, title string) (PageMeta, error) {
	params := url.Values{}
	params.Set("prop", "info")
	params.Set("titles", title)

	resp, err := c.query(ctx, params)
	if err != nil {
		return PageMeta{}, fmt.Errorf("page metadata for %s: %w", title, err)
	}
	meta := PageMeta{DateFormat: "dmy"}
	for _, p := range resp.Query.Pages {
		if p.PageLang != "" {
			meta.LanguageVariant = p.PageLang
		}
	}
	if meta.LanguageVariant == "en" || strings.HasPrefix(meta.LanguageVariant, "en-") {
		meta.DateFormat = "mdy"
	}
	return meta, nil
}

// Diff fetches the rendered diff between two revisions. The payload is opaque
// to the core and passed through to the operator display.
func (c *HTTPClient) Diff(ctx context.Context, oldRev, newRev int64) (string, error) {
	params := url.Values{}
	params.Set("action", "compare")
	params.Set("fromrev", strconv.FormatInt(oldRev, 10))
	params.Set("torev", strconv.FormatInt(newRev, 10))

	resp, err := c.request(ctx, params)
	if err != nil {
		return "", fmt.Errorf("diff %d..%d: %w", oldRev, newRev, err)
	}
	return resp.Compare.Body, nil
}

// History returns the most recent revisions of a page, newest first.
func (c *HTTPClient) History(ctx context.Context, title string) ([]RevisionSummary, error) {
	params := url.Values{}
	params.Set("prop", "revisions")
	params.Set("titles", title)
	params.Set("rvprop", "ids|user|comment|flags|timestamp")
	params.Set("rvlimit", strconv.Itoa(historyLimit))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", title, err)
	}
	var out []RevisionSummary
	for _, p := range resp.Query.Pages {
		for _, rev := range p.Revisions {
			out = append(out, RevisionSummary{
				RevisionID: rev.RevID,
				ParentID:   rev.ParentID,
				Title:      p.Title,
				User:       rev.User,
				Comment:    rev.Comment,
				Minor:      rev.Minor,
				Timestamp:  parseTimestamp(rev.Timestamp),
			})
		}
	}
	return out, nil
}

// Contributions returns a user's most recent edits, newest first.
func (c *HTTPClient) Contributions(ctx context.Context, username string) ([]RevisionSummary, error) {
	params := url.Values{}
	params.Set("list", "usercontribs")
	params.Set("ucuser", username)
	params.Set("ucprop", "ids|title|comment|flags|timestamp")
	params.Set("uclimit", strconv.Itoa(contributionsLimit))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("contributions for %s: %w", username, err)
	}
	out := make([]RevisionSummary, 0, len(resp.Query.UserContribs))
	for _, uc := range resp.Query.UserContribs {
		out = append(out, RevisionSummary{
			RevisionID: uc.RevID,
			ParentID:   uc.ParentID,
			Title:      uc.Title,
			User:       uc.User,
			Comment:    uc.Comment,
			Minor:      uc.Minor,
			Timestamp:  parseTimestamp(uc.Timestamp),
		})
	}
	return out, nil
}

// Categories returns the category titles of the page a revision belongs to.
func (c *HTTPClient) Categories(ctx context.Context, revisionID int64) ([]string, error) {
	params := url.Values{}
	params.Set("prop", "categories")
	params.Set("revids", strconv.FormatInt(revisionID, 10))
	params.Set("cllimit", "50")

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("categories for rev %d: %w", revisionID, err)
	}
	var out []string
	for _, p := range resp.Query.Pages {
		for _, cat := range p.Categories {
			out = append(out, strings.TrimPrefix(cat.Title, "Category:"))
		}
	}
	return out, nil
}

// LatestRevisionIDs resolves the newest known revision id per title, used for
// staleness checks.
func (c *HTTPClient) LatestRevisionIDs(ctx context.Context, titles []string) (map[string]int64, error) {
	out := make(map[string]int64, len(titles))
	if len(titles) == 0 {
		return out, nil
	}

	params := url.Values{}
	params.Set("prop", "info")
	params.Set("titles", strings.Join(titles, "|"))

	resp, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("latest revisions: %w", err)
	}
	for _, p := range resp.Query.Pages {
		out[p.Title] = p.LastRevID
	}
	return out, nil
}

type scoresResponse map[string]struct {
	Scores map[string]struct {
		Damaging struct {
			Score struct {
				Probability map[string]float64 `json:"probability"`
			} `json:"score"`
		} `json:"damaging"`
	} `json:"scores"`
}

// PriorityScores fetches damaging-model probabilities for a batch of
// revisions. Revisions the scorer cannot score are absent from the result.
func (c *HTTPClient) PriorityScores(ctx context.Context, revisionIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(revisionIDs))
	if c.scoreEndpoint == "" || len(revisionIDs) == 0 {
		return out, nil
	}

	u, err := url.Parse(c.scoreEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid score endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "v3/scores", c.wikiID)
	q := u.Query()
	q.Set("models", c.scoreModel)
	q.Set("revids", joinInt64s(revisionIDs))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("priority scores: %w", err)
	}

	var sr scoresResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("priority scores: decode: %w", err)
	}
	for _, wikiScores := range sr {
		for revStr, entry := range wikiScores.Scores {
			rev, err := strconv.ParseInt(revStr, 10, 64)
			if err != nil {
				continue
			}
			if p, ok := entry.Damaging.Score.Probability["true"]; ok {
				out[rev] = p
			}
		}
	}
	return out, nil
}

// query performs an action=query request with the common parameters filled in.
func (c *HTTPClient) query(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("action", "query")
	return c.request(ctx, params)
}

func (c *HTTPClient) request(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	u, err := url.Parse(c.apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.RawQuery = params.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("api error %s: %s", resp.Error.Code, resp.Error.Info)
	}
	return &resp, nil
}

func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: endpoints come from trusted config, parameters are url-encoded
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "|")
}

func joinInt64s(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, "|")
}
