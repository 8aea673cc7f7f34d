package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"querypulse/internal/domain"
	"querypulse/internal/metrics"
)

// Webhook channel types.
const (
	WebhookSlack = "slack"
	WebhookTeams = "teams"
	WebhookHTTP  = "http"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL         string
	Type        string
	MinSeverity domain.Severity
	// PerMinute and Burst bound the delivery rate; excess alerts are dropped.
	PerMinute int
	Burst     int
}

// WebhookNotifier posts alerts and run failures to a Slack, Teams or plain
// HTTP webhook. It is safe for concurrent use.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg.Type == "" {
		cfg.Type = WebhookHTTP
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = domain.SeverityHigh
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &WebhookNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.Burst),
		logger:  logger,
	}
}

// NotifyAlerts delivers alerts at or above the minimum severity. Alerts over
// the rate limit are dropped and counted. The last delivery error, if any,
// is returned.
func (n *WebhookNotifier) NotifyAlerts(ctx context.Context, alerts []domain.Alert) error {
	var lastErr error
	dropped := 0
	for i := range alerts {
		a := &alerts[i]
		if !a.Severity.AtLeast(n.cfg.MinSeverity) {
			continue
		}
		if !n.limiter.Allow() {
			dropped++
			metrics.NotificationsTotal.WithLabelValues(n.cfg.Type, "dropped").Inc()
			continue
		}
		if err := n.send(ctx, alertTitle(a), alertText(a), a.Severity, map[string]interface{}{"alert": alertPayload(a)}); err != nil {
			lastErr = err
			n.logger.Error("alert notification failed", "alert_id", a.ID, "type", n.cfg.Type, "error", err)
		}
	}
	if dropped > 0 {
		n.logger.Warn("alert notifications dropped by rate limit", "dropped", dropped)
	}
	return lastErr
}

// NotifyRunFailed delivers a failed run. Run failures bypass the rate limit.
func (n *WebhookNotifier) NotifyRunFailed(ctx context.Context, run *domain.ETLRun) error {
	msg := ""
	if run.ErrorMessage != nil {
		msg = *run.ErrorMessage
	}
	title := fmt.Sprintf("%s run failed", run.Kind)
	text := fmt.Sprintf("Run %s for window %s (partition %q) failed: %s", run.ID, run.Window, run.Partition, msg)
	payload := map[string]interface{}{"run": map[string]interface{}{
		"id":           run.ID,
		"kind":         run.Kind,
		"partition":    run.Partition,
		"window_start": run.Window.Start,
		"window_end":   run.Window.End,
		"status":       run.Status,
		"error":        msg,
	}}
	if err := n.send(ctx, title, text, domain.SeverityCritical, payload); err != nil {
		n.logger.Error("run failure notification failed", "run_id", run.ID, "type", n.cfg.Type, "error", err)
		return err
	}
	return nil
}

func (n *WebhookNotifier) send(ctx context.Context, title, text string, sev domain.Severity, payload map[string]interface{}) error {
	var body interface{}
	switch n.cfg.Type {
	case WebhookSlack:
		body = map[string]string{"text": fmt.Sprintf("*[%s] %s*\n%s", sev, title, text)}
	case WebhookTeams:
		body = map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(sev),
			"summary":    title,
			"title":      title,
			"text":       text,
		}
	default:
		body = payload
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	if err := n.post(ctx, raw); err != nil {
		metrics.NotificationsTotal.WithLabelValues(n.cfg.Type, "failed").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(n.cfg.Type, "sent").Inc()
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func alertTitle(a *domain.Alert) string {
	return fmt.Sprintf("%s on %s", a.Category, a.Subject)
}

func alertText(a *domain.Alert) string {
	return fmt.Sprintf("%s\nSuggested action: %s", a.Message, a.SuggestedAction)
}

func alertPayload(a *domain.Alert) map[string]interface{} {
	return map[string]interface{}{
		"id":               a.ID,
		"category":         a.Category,
		"severity":         a.Severity,
		"subject":          a.Subject,
		"pattern_hash":     a.PatternHash,
		"execution_id":     a.ExecutionID,
		"message":          a.Message,
		"suggested_action": a.SuggestedAction,
		"observed_value":   a.ObservedValue,
		"threshold_value":  a.ThresholdValue,
		"occurred_at":      a.OccurredAt,
	}
}

func severityColor(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "FF4F6A"
	case domain.SeverityHigh:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// LogNotifier writes notifications to the log. It is used when no webhook
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyAlerts logs each alert.
func (n *LogNotifier) NotifyAlerts(_ context.Context, alerts []domain.Alert) error {
	for _, a := range alerts {
		n.logger.Info("alert emitted",
			"category", a.Category,
			"severity", a.Severity,
			"subject", a.Subject,
			"execution_id", a.ExecutionID,
			"message", a.Message)
	}
	return nil
}

// NotifyRunFailed logs the failed run.
func (n *LogNotifier) NotifyRunFailed(_ context.Context, run *domain.ETLRun) error {
	msg := ""
	if run.ErrorMessage != nil {
		msg = *run.ErrorMessage
	}
	n.logger.Error("run failed", "run_id", run.ID, "kind", run.Kind, "window", run.Window.String(), "error", msg)
	return nil
}
