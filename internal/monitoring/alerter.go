package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDegradedRatio  AlertType = "degraded_ratio"
	AlertPersistFailure AlertType = "persist_failure"
	AlertCircuitOpen    AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// delivers alerts to a webhook, or to the log when none is configured.
// An alert type is not repeated within the cooldown.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	minSamples := int64(a.cfg.MinSamples)
	if minSamples <= 0 {
		minSamples = 1
	}
	if snap.Attempts >= minSamples && snap.DegradedRatio > a.cfg.DegradedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDegradedRatio,
			Severity: "high",
			Message: fmt.Sprintf(
				"Degraded generation ratio %.1f%% exceeds threshold %.1f%% (%d degraded / %d attempts in last %s)",
				snap.DegradedRatio*100, a.cfg.DegradedThreshold*100,
				snap.Degraded, snap.Attempts, snap.Window.Round(time.Second),
			),
			Details: map[string]any{
				"degraded_ratio": snap.DegradedRatio,
				"threshold":      a.cfg.DegradedThreshold,
				"degraded":       snap.Degraded,
				"attempts":       snap.Attempts,
			},
			Timestamp: now,
		})
	}

	if snap.PersistFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertPersistFailure,
			Severity: "high",
			Message:  fmt.Sprintf("%d generated analyses could not be persisted", snap.PersistFailed),
			Details: map[string]any{
				"persist_failed": snap.PersistFailed,
			},
			Timestamp: now,
		})
	}

	var open []string
	for name, state := range snap.Circuits {
		if state == "open" {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "medium",
			Message:   fmt.Sprintf("Upstream circuit open: %v", open),
			Details:   map[string]any{"upstreams": open},
			Timestamp: now,
		})
	}

	return a.throttle(alerts, now)
}

// throttle drops alerts whose type fired within the cooldown.
func (a *Alerter) throttle(alerts []Alert, now time.Time) []Alert {
	cooldown := time.Duration(a.cfg.CooldownSecs) * time.Second
	if cooldown <= 0 || len(alerts) == 0 {
		return alerts
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := alerts[:0]
	for _, al := range alerts {
		if last, ok := a.lastSent[al.Type]; ok && now.Sub(last) < cooldown {
			continue
		}
		a.lastSent[al.Type] = now
		out = append(out, al)
	}
	return out
}

// SendAlerts delivers alerts to the configured webhook URL, or logs them
// when no webhook is configured. Returns the number delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
		}
		return len(alerts)
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
