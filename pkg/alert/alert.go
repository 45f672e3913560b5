// Package alert is the hub's alerting engine (C10): per-metric threshold
// evaluation with sustained-breach counters, per-(server,metric) open-alert
// deduplication, auto-resolution, service-down evaluation, and
// cooldown-governed notifications (spec §4.10).
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/pkg/notifier"
)

// MetricThreshold configures one metric's breach detection (spec §4.10).
type MetricThreshold struct {
	HighPercent         float64
	CriticalPercent     float64
	SustainedHeartbeats int
	SustainedSeconds    int
}

// Thresholds holds the per-metric configuration for cpu, memory, disk.
type Thresholds struct {
	CPU    MetricThreshold
	Memory MetricThreshold
	Disk   MetricThreshold
}

func (t Thresholds) forMetric(metric string) MetricThreshold {
	switch metric {
	case "cpu":
		return t.CPU
	case "memory":
		return t.Memory
	case "disk":
		return t.Disk
	default:
		return MetricThreshold{}
	}
}

// NotificationConfig governs cooldowns and per-severity opt-in (spec §4.10).
type NotificationConfig struct {
	WebhookURL       string
	NotifyOnCritical bool
	NotifyOnHigh     bool
	NotifyOnMedium   bool
	NotifyOnLow      bool
	CriticalMinutes  int
	HighMinutes      int
}

func (n NotificationConfig) enabledFor(severity string) bool {
	switch severity {
	case "critical":
		return n.NotifyOnCritical
	case "high":
		return n.NotifyOnHigh
	case "medium":
		return n.NotifyOnMedium
	default:
		return n.NotifyOnLow
	}
}

// cooldown returns the minimum interval between repeat notifications for a
// severity: critical uses its own value, everything else uses high's
// (spec §4.10: "low/medium use the high cooldown").
func (n NotificationConfig) cooldown(severity string) time.Duration {
	if severity == "critical" {
		return time.Duration(n.CriticalMinutes) * time.Minute
	}
	return time.Duration(n.HighMinutes) * time.Minute
}

// MetricSample is one heartbeat's metric reading for threshold evaluation.
type MetricSample struct {
	CPUPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
}

func (s MetricSample) value(metric string) *float64 {
	switch metric {
	case "cpu":
		return s.CPUPercent
	case "memory":
		return s.MemoryPercent
	case "disk":
		return s.DiskPercent
	default:
		return nil
	}
}

// Engine evaluates alert state transitions and dispatches notifications.
type Engine struct {
	Queries  *db.Queries
	Notifier *notifier.Notifier
	Dedup    *Deduplicator
}

// NewEngine builds an Engine.
func NewEngine(q *db.Queries, n *notifier.Notifier, dedup *Deduplicator) *Engine {
	return &Engine{Queries: q, Notifier: n, Dedup: dedup}
}

// EvaluateMetrics runs the per-metric state machine for cpu/memory/disk
// against the latest sample, per spec §4.10.
func (e *Engine) EvaluateMetrics(ctx context.Context, now time.Time, serverID string, sample MetricSample, thresholds Thresholds, notify NotificationConfig) error {
	for _, metric := range []string{"cpu", "memory", "disk"} {
		value := sample.value(metric)
		if value == nil {
			continue
		}
		if err := e.evaluateOne(ctx, now, serverID, metric, *value, thresholds.forMetric(metric), notify); err != nil {
			return fmt.Errorf("evaluating %s: %w", metric, err)
		}
	}
	return nil
}

func (e *Engine) evaluateOne(ctx context.Context, now time.Time, serverID, metric string, value float64, t MetricThreshold, notify NotificationConfig) error {
	state, err := e.Queries.GetAlertState(ctx, serverID, metric)
	if err != nil {
		state = db.AlertState{ServerID: serverID, Metric: metric, BreachLevel: ""}
	}

	level := breachLevel(value, t)

	switch {
	case level == "" && state.BreachLevel != "":
		// Clear: one sample below high auto-resolves (spec §4.10).
		if state.LastAlertID != nil {
			if err := e.Queries.AutoResolveAlert(ctx, *state.LastAlertID, now); err != nil {
				return err
			}
			e.Dedup.Clear(ctx, serverID, metric, metric)
		}
		state.ConsecutiveBreach = 0
		state.BreachLevel = ""
		state.LastAlertID = nil
		state.ServiceDownSince = nil
		return e.Queries.UpsertAlertState(ctx, state)

	case level == "":
		// Below high with nothing open: end any pending breach run.
		if state.ServiceDownSince == nil {
			return nil
		}
		state.ConsecutiveBreach, state.ServiceDownSince = 0, nil
		return e.Queries.UpsertAlertState(ctx, state)

	case level == state.BreachLevel:
		// Same level: refresh actual_value and end any pending escalation run,
		// no new notification.
		if state.LastAlertID != nil {
			_ = e.Queries.UpdateAlertActualValue(ctx, *state.LastAlertID, &value)
		}
		if state.ServiceDownSince == nil {
			return nil
		}
		state.ConsecutiveBreach, state.ServiceDownSince = 0, nil
		return e.Queries.UpsertAlertState(ctx, state)
	}

	// level is a new or escalated breach. Require N consecutive samples or
	// elapsed-seconds sustain (spec §4.10).
	sustainedFrom := now
	if state.ServiceDownSince != nil {
		state.ConsecutiveBreach++
	} else {
		state.ConsecutiveBreach = 1
	}

	sustained := state.ConsecutiveBreach >= t.SustainedHeartbeats
	if !sustained && state.ServiceDownSince != nil {
		sustained = now.Sub(*state.ServiceDownSince) >= time.Duration(t.SustainedSeconds)*time.Second
	}
	if state.ServiceDownSince == nil {
		state.ServiceDownSince = &sustainedFrom
	}
	if !sustained {
		return e.Queries.UpsertAlertState(ctx, state)
	}

	severity := "high"
	if level == "critical" {
		severity = "critical"
	}

	if state.LastAlertID != nil {
		// Upgrade an existing open alert's severity.
		if err := e.Queries.UpdateAlertSeverityAndValue(ctx, *state.LastAlertID, severity, &value); err != nil {
			return err
		}
	} else {
		existingID, ok := e.Dedup.Lookup(ctx, e.Queries, serverID, metric, metric)
		if ok {
			state.LastAlertID = &existingID
			if err := e.Queries.UpdateAlertSeverityAndValue(ctx, existingID, severity, &value); err != nil {
				return err
			}
		} else {
			threshold := t.HighPercent
			if severity == "critical" {
				threshold = t.CriticalPercent
			}
			created, err := e.Queries.CreateAlert(ctx, db.Alert{
				ServerID: serverID, AlertType: metric, Metric: metric, Severity: severity,
				Title:          fmt.Sprintf("%s usage %s on %s", titleCase(metric), severity, serverID),
				Message:        fmt.Sprintf("%s usage is %.1f%%, threshold %.1f%%", titleCase(metric), value, threshold),
				ThresholdValue: &threshold, ActualValue: &value,
			})
			if err != nil {
				return err
			}
			state.LastAlertID = &created.ID
			e.Dedup.Set(ctx, serverID, metric, metric, created.ID)
		}
	}

	state.BreachLevel = level
	state.ConsecutiveBreach, state.ServiceDownSince = 0, nil
	if err := e.Queries.UpsertAlertState(ctx, state); err != nil {
		return err
	}

	var alertIDStr string
	if state.LastAlertID != nil {
		alertIDStr = state.LastAlertID.String()
	}
	e.maybeNotify(ctx, now, &state, severity, notify, notifier.AlertEvent{
		AlertID: alertIDStr, ServerID: serverID, Severity: severity,
		Title: fmt.Sprintf("%s usage %s", titleCase(metric), severity), Metric: metric,
		Threshold: thresholdFor(t, severity), ActualValue: value,
	})
	return nil
}

func breachLevel(value float64, t MetricThreshold) string {
	if t.CriticalPercent > 0 && value >= t.CriticalPercent {
		return "critical"
	}
	if t.HighPercent > 0 && value >= t.HighPercent {
		return "high"
	}
	return ""
}

func thresholdFor(t MetricThreshold, severity string) float64 {
	if severity == "critical" {
		return t.CriticalPercent
	}
	return t.HighPercent
}

// maybeNotify emits a notification if the per-severity opt-in is set and
// the cooldown has elapsed, then records last_notified_at (spec §4.10).
func (e *Engine) maybeNotify(ctx context.Context, now time.Time, state *db.AlertState, severity string, notify NotificationConfig, ev notifier.AlertEvent) {
	if !notify.enabledFor(severity) || notify.WebhookURL == "" {
		return
	}
	if state.LastNotifiedAt != nil && now.Sub(*state.LastNotifiedAt) < notify.cooldown(severity) {
		return
	}

	e.Notifier.SendAlert(ctx, ev)
	state.LastNotifiedAt = &now
	_ = e.Queries.UpsertAlertState(ctx, *state)
}

// EvaluateServices applies the service-down state machine for each enabled
// expected service against its latest observed status (spec §4.10).
func (e *Engine) EvaluateServices(ctx context.Context, now time.Time, serverID string, expected []db.ExpectedService, latest map[string]db.ServiceStatus, notify NotificationConfig) error {
	for _, svc := range expected {
		if !svc.Enabled {
			continue
		}
		status, ok := latest[svc.ServiceName]
		if !ok || status.Status == "unknown" {
			continue // spec §4.10: unknown is an explicit no-op
		}
		if err := e.evaluateService(ctx, now, serverID, svc, status, notify); err != nil {
			return fmt.Errorf("evaluating service %s: %w", svc.ServiceName, err)
		}
	}
	return nil
}

func (e *Engine) evaluateService(ctx context.Context, now time.Time, serverID string, svc db.ExpectedService, status db.ServiceStatus, notify NotificationConfig) error {
	existingID, hasOpen := e.Dedup.Lookup(ctx, e.Queries, serverID, "service", svc.ServiceName)

	if status.Status == "running" {
		if hasOpen {
			if err := e.Queries.AutoResolveAlert(ctx, existingID, now); err != nil {
				return err
			}
			e.Dedup.Clear(ctx, serverID, "service", svc.ServiceName)
			return nil
		}
		return nil
	}

	// stopped or failed.
	severity := "medium"
	if svc.IsCritical {
		severity = "high"
	}
	title := fmt.Sprintf("Service %s is %s", svc.ServiceName, status.Status)

	if hasOpen {
		return nil // already open, dedup per (server_id, service_name)
	}

	created, err := e.Queries.CreateAlert(ctx, db.Alert{
		ServerID: serverID, AlertType: "service", Metric: svc.ServiceName, Severity: severity,
		Title: title, Message: title,
	})
	if err != nil {
		return err
	}
	e.Dedup.Set(ctx, serverID, "service", svc.ServiceName, created.ID)

	state, err := e.Queries.GetAlertState(ctx, serverID, svc.ServiceName)
	if err != nil {
		state = db.AlertState{ServerID: serverID, Metric: svc.ServiceName}
	}
	state.LastAlertID = &created.ID
	state.BreachLevel = severity

	e.maybeNotify(ctx, now, &state, severity, notify, notifier.AlertEvent{
		AlertID: created.ID.String(), ServerID: serverID, Severity: severity, Title: title, Metric: svc.ServiceName,
	})
	return e.Queries.UpsertAlertState(ctx, state)
}

// TriggerOfflineAlert opens (or reminds on) an offline alert for serverID.
// Invoked by the scheduler (C13), never by heartbeats (spec §4.10).
// Workstations are excluded by the caller via machine_type gating.
func (e *Engine) TriggerOfflineAlert(ctx context.Context, now time.Time, serverID string, reminder bool, notify NotificationConfig) error {
	existingID, hasOpen := e.Dedup.Lookup(ctx, e.Queries, serverID, "offline", "offline")
	var alertID string
	if !hasOpen {
		created, err := e.Queries.CreateAlert(ctx, db.Alert{
			ServerID: serverID, AlertType: "offline", Metric: "offline", Severity: "high",
			Title: fmt.Sprintf("%s is offline", serverID), Message: "no heartbeat received within the staleness window",
		})
		if err != nil {
			return err
		}
		alertID = created.ID.String()
		e.Dedup.Set(ctx, serverID, "offline", "offline", created.ID)
	} else {
		alertID = existingID.String()
	}

	state, err := e.Queries.GetAlertState(ctx, serverID, "offline")
	if err != nil {
		state = db.AlertState{ServerID: serverID, Metric: "offline"}
	}
	e.maybeNotify(ctx, now, &state, "high", notify, notifier.AlertEvent{
		AlertID: alertID, ServerID: serverID, Severity: "high",
		Title: fmt.Sprintf("%s is offline", serverID), Reminder: reminder,
	})
	return e.Queries.UpsertAlertState(ctx, state)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}
