package cfg

import (
	"flag"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		WikiAPIEndpoint:       "https://en.wikipedia.org/w/api.php",
		WikiID:                "enwiki",
		Namespaces:            "0",
		RefreshSeconds:        5,
		MaxRefreshSeconds:     40,
		MaxEditCount:          500,
		MinScore:              0.7,
		QueueCapacity:         20,
		HistoryCapacity:       50,
		CacheSize:             256,
		MinRequestMillis:      1000,
		ClaudeAPIKey:          "sk-test-key",
		ClaudeModel:           "claude-sonnet-4-20250514",
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.RefreshSeconds != 5 {
		t.Errorf("RefreshSeconds = %d, want 5", c.RefreshSeconds)
	}
	if c.MaxRefreshSeconds != 40 {
		t.Errorf("MaxRefreshSeconds = %d, want 40", c.MaxRefreshSeconds)
	}
	if c.MinScore != 0.7 {
		t.Errorf("MinScore = %g, want 0.7", c.MinScore)
	}
	if c.QueueCapacity != 20 {
		t.Errorf("QueueCapacity = %d, want 20", c.QueueCapacity)
	}
	if c.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-sonnet-4-20250514")
	}
	if c.ClaudeAPIKey != "" {
		t.Errorf("ClaudeAPIKey default = %q, want empty (AI disabled)", c.ClaudeAPIKey)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-wiki-api-endpoint", "https://test.wikipedia.org/w/api.php",
		"-namespaces", "0,1,3",
		"-refresh-seconds", "10",
		"-min-score", "0.5",
		"-excluded-authors", "BotA, BotB",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.WikiAPIEndpoint != "https://test.wikipedia.org/w/api.php" {
		t.Errorf("WikiAPIEndpoint = %q", c.WikiAPIEndpoint)
	}
	if c.RefreshSeconds != 10 {
		t.Errorf("RefreshSeconds = %d, want 10", c.RefreshSeconds)
	}
	if c.MinScore != 0.5 {
		t.Errorf("MinScore = %g, want 0.5", c.MinScore)
	}

	ns, err := c.NamespaceList()
	if err != nil {
		t.Fatalf("NamespaceList = %v", err)
	}
	if len(ns) != 3 || ns[0] != 0 || ns[1] != 1 || ns[2] != 3 {
		t.Errorf("NamespaceList = %v, want [0 1 3]", ns)
	}

	excluded := c.ExcludedList()
	if len(excluded) != 2 || excluded[0] != "BotA" || excluded[1] != "BotB" {
		t.Errorf("ExcludedList = %v, want [BotA BotB]", excluded)
	}
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	c := validBase()
	if err := c.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestValidate_NoAIKeyIsValid(t *testing.T) {
	t.Parallel()

	c := validBase()
	c.ClaudeAPIKey = ""
	c.ClaudeModel = ""
	if err := c.Validate(); err != nil {
		t.Errorf("Validate without AI key = %v, want nil (AI disabled)", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing wiki endpoint", func(c *Config) { c.WikiAPIEndpoint = "" }, "WIKI_API_ENDPOINT"},
		{"bad port", func(c *Config) { c.APIPort = 0 }, "HTTP_PORT"},
		{"port too high", func(c *Config) { c.APIPort = 70000 }, "HTTP_PORT"},
		{"bad drain", func(c *Config) { c.DrainSeconds = 0 }, "DRAIN_SECONDS"},
		{"budget below drain", func(c *Config) { c.ShutdownBudgetSeconds = 30 }, "SHUTDOWN_BUDGET_SECONDS"},
		{"bad namespaces", func(c *Config) { c.Namespaces = "0,x" }, "NAMESPACES"},
		{"bad refresh", func(c *Config) { c.RefreshSeconds = 0 }, "REFRESH_SECONDS"},
		{"ceiling below refresh", func(c *Config) { c.MaxRefreshSeconds = 1 }, "MAX_REFRESH_SECONDS"},
		{"score out of range", func(c *Config) { c.MinScore = 1.5 }, "MIN_SCORE"},
		{"bad capacity", func(c *Config) { c.QueueCapacity = 0 }, "QUEUE_CAPACITY"},
		{"bad history", func(c *Config) { c.HistoryCapacity = -1 }, "HISTORY_CAPACITY"},
		{"bad cache size", func(c *Config) { c.CacheSize = 0 }, "ENRICH_CACHE_SIZE"},
		{"bad request interval", func(c *Config) { c.MinRequestMillis = 0 }, "MIN_REQUEST_INTERVAL_MS"},
		{"key without model", func(c *Config) { c.ClaudeModel = "" }, "CLAUDE_MODEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Validate = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate = %q, want mention of %q", err, tt.wantSub)
			}
		})
	}
}
