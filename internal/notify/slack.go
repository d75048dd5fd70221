package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/version"
)

// SlackNotifier posts findings to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier returns a notifier for webhookURL. A nil client gets a
// default with a 10s timeout.
func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, httpClient: client}
}

func (n *SlackNotifier) Name() string { return "slack" }

var severityColor = map[models.Severity]string{
	models.SeverityCritical: "#8B0000",
	models.SeverityHigh:     "#FF0000",
	models.SeverityMedium:   "#FFA500",
	models.SeverityLow:      "#FFFF00",
	models.SeverityInfo:     "#808080",
}

func buildSlackMessage(f models.Finding) map[string]interface{} {
	fields := []map[string]interface{}{
		{"title": "Resource", "value": f.Resource.Key(), "short": false},
		{"title": "Rule", "value": f.RuleID, "short": true},
		{"title": "Severity", "value": string(f.Severity), "short": true},
	}
	if f.Resource.Region != "" {
		fields = append(fields, map[string]interface{}{"title": "Region", "value": f.Resource.Region, "short": true})
	}
	if f.Recommendation != "" {
		fields = append(fields, map[string]interface{}{"title": "Recommendation", "value": f.Recommendation, "short": false})
	}
	return map[string]interface{}{
		"text": Subject(f),
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor[f.Severity],
				"text":   f.Explanation,
				"fields": fields,
				"footer": "posture-watch " + f.Fingerprint,
				"ts":     f.DetectedAt.Unix(),
			},
		},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, f models.Finding) error {
	payload, err := json.Marshal(buildSlackMessage(f))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &scanerr.ProviderError{Op: "slack post", Class: scanerr.ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		class := scanerr.ClassPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			class = scanerr.ClassTransient
		}
		return &scanerr.ProviderError{
			Op:    "slack post",
			Code:  resp.Status,
			Class: class,
			Err:   fmt.Errorf("slack webhook error: %s", bytes.TrimSpace(body)),
		}
	}
	return nil
}
