package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStalledPipelines AlertType = "stalled_pipelines"
	AlertQueueBacklog     AlertType = "queue_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if len(snap.Stalled) > 0 {
		worst := snap.Stalled[0]
		for _, s := range snap.Stalled {
			if s.Age > worst.Age {
				worst = s
			}
		}
		alerts = append(alerts, Alert{
			Type:     AlertStalledPipelines,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d team pipeline(s) stalled beyond %s; worst is %q at %s for %s",
				len(snap.Stalled), snap.StalledAfter,
				worst.Name, worst.Status, worst.Age.Round(time.Minute),
			),
			Details: map[string]any{
				"stalled_count": len(snap.Stalled),
				"stalled":       snap.Stalled,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueDepthThreshold > 0 && snap.QueueDepth > a.cfg.QueueDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"task queue depth %d exceeds threshold %d",
				snap.QueueDepth, a.cfg.QueueDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.QueueDepth,
				"threshold": a.cfg.QueueDepthThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
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
