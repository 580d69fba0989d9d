package alert

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	httpclient "signalbot/pkg/http"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *httpclient.Client
}

// NewTelegramChannel creates a channel posting to the Bot API at baseURL
// (empty for the public endpoint). The token lives in the client base URL so
// it never reaches span names or metric labels.
func NewTelegramChannel(baseURL, botToken, chatID string) *TelegramChannel {
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   httpclient.NewClient(strings.TrimRight(baseURL, "/")+"/bot"+botToken, httpclient.DefaultOptions()),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func levelIcon(level AlertLevel) string {
	switch level {
	case Warning:
		return "⚠️"
	case Error:
		return "❌"
	case Critical:
		return "🚨"
	}
	return "ℹ️"
}

// renderHTML builds the Telegram HTML body. Message is already HTML; title
// and fields are escaped.
func renderHTML(alert AlertPayload) string {
	var b strings.Builder
	if alert.Title != "" {
		fmt.Fprintf(&b, "%s <b>[%s] %s</b>\n\n", levelIcon(alert.Level), alert.Level, html.EscapeString(alert.Title))
	}
	b.WriteString(alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• <b>%s</b>: %s", html.EscapeString(k), html.EscapeString(alert.Fields[k]))
		}
	}
	return b.String()
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     renderHTML(alert),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if _, err := t.client.PostJSON(ctx, "/sendMessage", payload); err != nil {
		// transport errors quote the URL, which carries the token
		return fmt.Errorf("telegram sendMessage: %s", strings.ReplaceAll(err.Error(), t.botToken, "<redacted>"))
	}
	return nil
}
