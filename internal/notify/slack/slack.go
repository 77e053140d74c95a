// Package slack sends patrol notifications to Slack via incoming webhooks:
// feed health transitions and high-probability flagged edits.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/patrol/internal/queue"
)

const (
	maxReasoningLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier sends patrol events to a Slack webhook.
type Notifier struct {
	webhookURL string
	wikiID     string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, every send is a
// no-op.
func New(webhookURL, wikiID string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		wikiID:     wikiID,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// SendFeedStatus reports a feed health transition.
func (n *Notifier) SendFeedStatus(ctx context.Context, degraded bool, retryInterval time.Duration) error {
	if n.webhookURL == "" {
		return nil
	}
	text := fmt.Sprintf("\U0001f7e2 %s feed recovered, back to normal cadence", n.wikiID)
	if degraded {
		text = fmt.Sprintf("\U0001f534 %s feed unreachable, polling every %s", n.wikiID, retryInterval)
	}
	return n.post(ctx, map[string]any{"text": text})
}

// SendFlagged posts a flagged work item. Call it only for items whose
// enrichment crossed the alerting threshold; the notifier does no filtering.
func (n *Notifier) SendFlagged(ctx context.Context, item *queue.WorkItem) error {
	if n.webhookURL == "" {
		return nil
	}
	return n.post(ctx, buildFlaggedMessage(n.wikiID, item))
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildFlaggedMessage(wikiID string, item *queue.WorkItem) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(item),
			{"type": "divider"},
			fieldsBlock(item),
			reasoningBlock(item),
			contextBlock(wikiID, item),
		},
	}
}

func headerBlock(item *queue.WorkItem) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Flagged edit: %s", probabilityEmoji(item), item.Page.Title),
		},
	}
}

func fieldsBlock(item *queue.WorkItem) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Revision:* %d", item.RevisionID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Author:* %s", item.Author.Name)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Warning level:* %s", item.Author.Level)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.2f", item.Score)},
	}
	if v := item.Enrichment; v != nil {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Probability:* %d%%", v.Probability)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", v.RecommendedAction)},
		)
	}
	return map[string]any{"type": "section", "fields": fields}
}

func reasoningBlock(item *queue.WorkItem) map[string]any {
	text := "_No classifier reasoning available._"
	if v := item.Enrichment; v != nil && strings.TrimSpace(v.Reasoning) != "" {
		text = truncate(v.Reasoning, maxReasoningLen)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(wikiID string, item *queue.WorkItem) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("patrol • %s • rev %d • %s",
					wikiID, item.RevisionID, item.AdmittedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func probabilityEmoji(item *queue.WorkItem) string {
	if v := item.Enrichment; v != nil {
		switch {
		case v.Probability >= 80:
			return "\U0001f534" // red circle
		case v.Probability >= 50:
			return "\U0001f7e1" // yellow circle
		}
	}
	return "\U0001f7e2" // green circle
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
