package alert

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	httpclient "signalbot/pkg/http"
)

type SlackChannel struct {
	webhookURL string
	client     *httpclient.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     httpclient.NewClient(webhookURL, httpclient.DefaultOptions()),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

var (
	boldTag = regexp.MustCompile(`</?b>`)
	anyTag  = regexp.MustCompile(`<[^>]+>`)
)

// toMrkdwn converts the Telegram HTML subset to Slack mrkdwn
func toMrkdwn(s string) string {
	s = boldTag.ReplaceAllString(s, "*")
	s = anyTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f" // Green (Info)
	switch alert.Level {
	case Warning:
		color = "#ffcc00" // Yellow
	case Error:
		color = "#ff0000" // Red
	case Critical:
		color = "#8b0000" // Dark Red
	}

	var fields []map[string]interface{}
	for k, v := range alert.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	pretext := fmt.Sprintf("[%s]", alert.Level)
	if alert.Title != "" {
		pretext += " " + alert.Title
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"pretext":   pretext,
				"text":      strings.TrimSpace(toMrkdwn(alert.Message)),
				"fields":    fields,
				"ts":        alert.Timestamp.Unix(),
				"footer":    "signalbot",
				"mrkdwn_in": []string{"text"},
			},
		},
	}

	if _, err := s.client.PostJSON(ctx, "", payload); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
