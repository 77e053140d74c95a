// Package cfg holds the service configuration, bound to flags and validated
// at startup.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Config carries every tunable of the patrol service.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	WikiAPIEndpoint   string
	ScoreEndpoint     string
	WikiID            string
	Namespaces        string
	RefreshSeconds    int
	MaxRefreshSeconds int

	MaxEditCount    int64
	MinScore        float64
	ExcludedAuthors string
	Operator        string

	QueueCapacity   int
	HistoryCapacity int

	CacheSize        int
	MinRequestMillis int
	ClaudeAPIKey     string
	ClaudeModel      string

	DatabaseURL     string
	SlackWebhookURL string
	APIToken        string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.WikiAPIEndpoint, "wiki-api-endpoint", "", "MediaWiki action API endpoint, e.g. https://en.wikipedia.org/w/api.php")
	fs.StringVar(&c.ScoreEndpoint, "score-endpoint", "", "ORES-style scoring endpoint (empty = priority scores default to 0)")
	fs.StringVar(&c.WikiID, "wiki-id", "enwiki", "wiki database name used by the scoring endpoint")
	fs.StringVar(&c.Namespaces, "namespaces", "0", "comma-separated namespace ids to watch")
	fs.IntVar(&c.RefreshSeconds, "refresh-seconds", 5, "feed poll interval in seconds")
	fs.IntVar(&c.MaxRefreshSeconds, "max-refresh-seconds", 40, "poll backoff ceiling in seconds")

	fs.Int64Var(&c.MaxEditCount, "max-edit-count", 500, "drop edits by authors with more edits than this")
	fs.Float64Var(&c.MinScore, "min-score", 0.7, "minimum priority score for admission (0..1)")
	fs.StringVar(&c.ExcludedAuthors, "excluded-authors", "", "comma-separated authors never admitted")
	fs.StringVar(&c.Operator, "operator", "", "reviewing account, used for revert-count context")

	fs.IntVar(&c.QueueCapacity, "queue-capacity", 20, "soft capacity of the active triage queue")
	fs.IntVar(&c.HistoryCapacity, "history-capacity", 50, "bound on the dismissed-item history")

	fs.IntVar(&c.CacheSize, "enrich-cache-size", 256, "entries per enrichment response cache")
	fs.IntVar(&c.MinRequestMillis, "min-request-interval-ms", 1000, "minimum milliseconds between classifier dispatches")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude classifier (empty = AI enrichment disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the dedup ledger (empty = in-memory)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on the operator API (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.WikiAPIEndpoint == "" {
		errs = append(errs, errors.New("WIKI_API_ENDPOINT is required"))
	}
	if _, err := c.NamespaceList(); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid REFRESH_SECONDS %d (must be positive)", c.RefreshSeconds))
	}
	if c.MaxRefreshSeconds < c.RefreshSeconds {
		errs = append(errs, fmt.Errorf("MAX_REFRESH_SECONDS %d must be at least REFRESH_SECONDS %d", c.MaxRefreshSeconds, c.RefreshSeconds))
	}

	if c.MinScore < 0 || c.MinScore > 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_SCORE %g (must be 0..1)", c.MinScore))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_CAPACITY %d (must be positive)", c.QueueCapacity))
	}
	if c.HistoryCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_CAPACITY %d (must be positive)", c.HistoryCapacity))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid ENRICH_CACHE_SIZE %d (must be positive)", c.CacheSize))
	}
	if c.MinRequestMillis <= 0 {
		errs = append(errs, fmt.Errorf("invalid MIN_REQUEST_INTERVAL_MS %d (must be positive)", c.MinRequestMillis))
	}
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NamespaceList parses the comma-separated namespace ids.
func (c *Config) NamespaceList() ([]int, error) {
	parts := strings.Split(c.Namespaces, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ns, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid NAMESPACES entry %q", p)
		}
		out = append(out, ns)
	}
	return out, nil
}

// ExcludedList splits the comma-separated excluded-author names.
func (c *Config) ExcludedList() []string {
	if c.ExcludedAuthors == "" {
		return nil
	}
	parts := strings.Split(c.ExcludedAuthors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
