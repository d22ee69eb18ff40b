// Package notify decides when a point's forecast warrants an alert and when
// the scheduled admin status report is due.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Notifier delivers a rendered message to recipients.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string, isHTML bool) error
}

// History is the notification log the engine reads for dedup and reporting
// and appends to after a successful send.
type History interface {
	AlertSentSince(ctx context.Context, point string, since time.Time) (bool, error)
	HeartbeatSentSince(ctx context.Context, since time.Time) (bool, error)
	LocationStatsSince(ctx context.Context, since time.Time) (map[string]domain.LocationStats, error)
	CountAlertsSince(ctx context.Context, since time.Time) (int, error)
	AppendNotification(ctx context.Context, rec domain.NotificationRecord) error
}

// Settings configures the engine.
type Settings struct {
	Enabled         bool
	Cooldown        time.Duration
	Thresholds      domain.Thresholds
	AdminRecipients []string
	AdminTimes      []string // HH:MM, JST
	Interval        time.Duration
	RetentionDays   int
}

// Outcome describes what an evaluation did.
type Outcome string

const (
	OutcomeDisabled       Outcome = "disabled"
	OutcomeNoRecipients   Outcome = "no_recipients"
	OutcomeCooldown       Outcome = "cooldown"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeNotScheduled   Outcome = "not_scheduled"
	OutcomeAlreadySent    Outcome = "already_sent"
	OutcomeSent           Outcome = "sent"
	OutcomeSendFailed     Outcome = "send_failed"
)

// Result is the outcome of an evaluation. Record is set only when a
// notification was sent and logged.
type Result struct {
	Outcome Outcome
	Record  *domain.NotificationRecord
}

// Engine evaluates alert and heartbeat conditions.
type Engine struct {
	settings Settings
	history  History
	notifier Notifier
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine creates an Engine. A nil notifier disables sending.
func NewEngine(settings Settings, history History, notifier Notifier, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		settings: settings,
		history:  history,
		notifier: notifier,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Evaluate checks one location's per-lead rates for this cycle and sends an
// alert when the maximum reaches the heavy threshold and the point is not in
// cooldown. Store errors are returned; send failures are logged and reported
// as OutcomeSendFailed.
func (e *Engine) Evaluate(ctx context.Context, loc domain.MonitoredLocation, rates map[int]float64) (Result, error) {
	if !e.settings.Enabled || !loc.IsEnabled() || e.notifier == nil {
		return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeDisabled}), nil
	}
	if len(loc.Recipients) == 0 {
		return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeNoRecipients}), nil
	}

	now := e.clock.Now()
	recent, err := e.history.AlertSentSince(ctx, loc.Name, now.Add(-e.settings.Cooldown))
	if err != nil {
		return Result{}, fmt.Errorf("cooldown check %s: %w", loc.Name, err)
	}
	if recent {
		e.logger.Info("alert suppressed by cooldown", "point", loc.Name, "cooldown", e.settings.Cooldown)
		return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeCooldown}), nil
	}

	th := loc.Thresholds.Merge(e.settings.Thresholds)
	leads := sortedLeads(rates)
	maxRate, maxLead := peak(leads, rates)
	kind := th.Classify(maxRate)
	if maxRate <= 0 || kind == domain.ThresholdNone {
		return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeBelowThreshold}), nil
	}

	subject, body, err := renderAlert(alertData{
		Point:      loc.Name,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		DetectedAt: now.In(domain.JST).Format("2006-01-02 15:04"),
		Level:      levelLabel(kind),
		Rows:       alertRows(leads, rates, th),
		MaxRate:    maxRate,
		MaxLead:    maxLead,
		Heavy:      th.Heavy,
		Torrential: th.Torrential,
		Cooldown:   int(e.settings.Cooldown / time.Minute),
	})
	if err != nil {
		return Result{}, err
	}

	if err := e.notifier.Send(ctx, loc.Recipients, subject, body, false); err != nil {
		e.logger.Error("alert send failed", "point", loc.Name, "error", err)
		return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeSendFailed}), nil
	}

	rec := domain.NotificationRecord{
		PointName:     loc.Name,
		Kind:          domain.KindThresholdAlert,
		Recipients:    strings.Join(loc.Recipients, ", "),
		Subject:       subject,
		Body:          body,
		Rate:          maxRate,
		ThresholdKind: kind,
		SentAt:        now,
	}
	if err := e.history.AppendNotification(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("record alert %s: %w", loc.Name, err)
	}
	e.logger.Info("alert sent", "point", loc.Name, "mmph", maxRate, "lead", maxLead, "threshold", kind)
	return e.done(domain.KindThresholdAlert, Result{Outcome: OutcomeSent, Record: &rec}), nil
}

// CheckAdminHeartbeat sends the status report when the current JST minute is
// a scheduled time and no report went out in the last hour.
func (e *Engine) CheckAdminHeartbeat(ctx context.Context, locations []domain.MonitoredLocation) (Result, error) {
	if !e.settings.Enabled || e.notifier == nil {
		return e.done(domain.KindAdminHeartbeat, Result{Outcome: OutcomeDisabled}), nil
	}
	if len(e.settings.AdminRecipients) == 0 {
		return e.done(domain.KindAdminHeartbeat, Result{Outcome: OutcomeNoRecipients}), nil
	}

	now := e.clock.Now().In(domain.JST)
	if !scheduled(now, e.settings.AdminTimes) {
		return Result{Outcome: OutcomeNotScheduled}, nil
	}

	sent, err := e.history.HeartbeatSentSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return Result{}, fmt.Errorf("heartbeat dedup: %w", err)
	}
	if sent {
		return e.done(domain.KindAdminHeartbeat, Result{Outcome: OutcomeAlreadySent}), nil
	}

	stats, err := e.history.LocationStatsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return Result{}, fmt.Errorf("heartbeat stats: %w", err)
	}
	alerts, err := e.history.CountAlertsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Result{}, fmt.Errorf("heartbeat alert count: %w", err)
	}

	rows, active := reportRows(locations, stats)
	subject, body, err := renderReport(reportData{
		GeneratedAt:   now.Format(domain.StoreLayout),
		Stamp:         now.Format("2006-01-02 15:04"),
		Rows:          rows,
		Active:        active,
		Total:         len(locations),
		Alerts24h:     alerts,
		IntervalMin:   int(e.settings.Interval / time.Minute),
		RetentionDays: e.settings.RetentionDays,
		Schedule:      strings.Join(e.settings.AdminTimes, ", "),
	})
	if err != nil {
		return Result{}, err
	}

	if err := e.notifier.Send(ctx, e.settings.AdminRecipients, subject, body, false); err != nil {
		e.logger.Error("admin report send failed", "error", err)
		return e.done(domain.KindAdminHeartbeat, Result{Outcome: OutcomeSendFailed}), nil
	}

	rec := domain.NotificationRecord{
		PointName:     domain.AdminPoint,
		Kind:          domain.KindAdminHeartbeat,
		Recipients:    strings.Join(e.settings.AdminRecipients, ", "),
		Subject:       subject,
		Body:          body,
		ThresholdKind: domain.ThresholdNone,
		SentAt:        now,
	}
	if err := e.history.AppendNotification(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("record admin report: %w", err)
	}
	e.logger.Info("admin report sent", "recipients", rec.Recipients, "alerts_24h", alerts)
	return e.done(domain.KindAdminHeartbeat, Result{Outcome: OutcomeSent, Record: &rec}), nil
}

func (e *Engine) done(kind domain.NotificationKind, r Result) Result {
	e.metrics.Notifications.WithLabelValues(string(kind), string(r.Outcome)).Inc()
	return r
}

func scheduled(now time.Time, times []string) bool {
	hm := now.Truncate(time.Minute).Format("15:04")
	for _, t := range times {
		if strings.TrimSpace(t) == hm {
			return true
		}
	}
	return false
}

func sortedLeads(rates map[int]float64) []int {
	leads := make([]int, 0, len(rates))
	for lead := range rates {
		leads = append(leads, lead)
	}
	sort.Ints(leads)
	return leads
}

// peak returns the largest rate and the earliest lead at which it occurs.
func peak(leads []int, rates map[int]float64) (float64, int) {
	var (
		maxRate float64
		maxLead int
	)
	for _, lead := range leads {
		if r := rates[lead]; r > maxRate {
			maxRate, maxLead = r, lead
		}
	}
	return maxRate, maxLead
}
