package alerts

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/logmet/logmet-go/internal/jsoncodec"
)

// deliver sends webhook notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.post(url, map[string]string{
				"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), stateText(a)),
			})
		case "teams":
			err = e.post(url, map[string]any{
				"@type":      "MessageCard",
				"@context":   "http://schema.org/extensions",
				"themeColor": severityColor(a.Severity),
				"summary":    a.RuleName,
				"title":      "Logmet ingest alert: " + a.RuleName,
				"text":       stateText(a),
			})
		case "http":
			err = e.post(url, map[string]any{"alert": a})
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", a.RuleName, "err", err)
		} else {
			slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
		}
	}
}

func (e *Engine) post(url string, payload any) error {
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateText(a *Alert) string {
	if a.State == "resolved" {
		return "resolved: " + a.RuleName
	}
	return a.Message
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
