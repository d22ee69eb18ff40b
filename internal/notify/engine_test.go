package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/sqlite"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/notify"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	Recipients []string
	Subject    string
	Body       string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, recipients []string, subject, body string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{Recipients: recipients, Subject: subject, Body: body})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	engine   *notify.Engine
	store    *sqlite.Store
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
}

func defaultSettings() notify.Settings {
	return notify.Settings{
		Enabled:         true,
		Cooldown:        30 * time.Minute,
		Thresholds:      domain.Thresholds{Heavy: 30, Torrential: 50},
		AdminRecipients: []string{"ops@example.com"},
		AdminTimes:      []string{"09:00", "17:00"},
		Interval:        5 * time.Minute,
		RetentionDays:   3,
	}
}

func newFixture(t *testing.T, start time.Time, settings notify.Settings) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nowcast.sqlite"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	n := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := notify.NewEngine(settings, store, n, clock, observability.NewMetricsForTesting(), logger)
	return &fixture{engine: e, store: store, notifier: n, clock: clock}
}

func mishima() domain.MonitoredLocation {
	return domain.MonitoredLocation{
		Name:       "Mishima",
		Lat:        35.126474871810345,
		Lon:        138.91109391000256,
		Recipients: []string{"a@example.com", "b@example.com"},
	}
}

var noon = time.Date(2024, 6, 1, 12, 0, 0, 0, domain.JST)

func TestEvaluate_TorrentialAtLaterLead(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())
	ctx := context.Background()

	res, err := f.engine.Evaluate(ctx, mishima(), map[int]float64{0: 10, 15: 35, 30: 55})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSent, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, domain.ThresholdTorrential, res.Record.ThresholdKind)
	assert.InDelta(t, 55.0, res.Record.Rate, 1e-9)
	assert.Equal(t, "a@example.com, b@example.com", res.Record.Recipients)

	require.Equal(t, 1, f.notifier.count())
	msg := f.notifier.sent[0]
	assert.Equal(t, "[Rain alert] Mishima - Torrential rain", msg.Subject)
	assert.Contains(t, msg.Body, "Peak rainfall: 55.0 mm/h (30 min ahead)")
	assert.Contains(t, msg.Body, "now: 10.0 mm/h\n")
	assert.Contains(t, msg.Body, "+15 min: 35.0 mm/h [HEAVY]")
	assert.Contains(t, msg.Body, "+30 min: 55.0 mm/h [TORRENTIAL]")
	assert.Contains(t, msg.Body, "at least 30 minutes")

	// A second cycle inside the cooldown sends nothing, even at a higher rate.
	f.clock.Advance(5 * time.Minute)
	res, err = f.engine.Evaluate(ctx, mishima(), map[int]float64{0: 60})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeCooldown, res.Outcome)
	assert.Nil(t, res.Record)

	alerts, err := f.store.CountAlertsSince(ctx, noon.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 1, f.notifier.count())
}

func TestEvaluate_CooldownBoundary(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())
	ctx := context.Background()
	rates := map[int]float64{0: 40}

	res, err := f.engine.Evaluate(ctx, mishima(), rates)
	require.NoError(t, err)
	require.Equal(t, notify.OutcomeSent, res.Outcome)

	f.clock.Advance(29 * time.Minute)
	res, err = f.engine.Evaluate(ctx, mishima(), rates)
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeCooldown, res.Outcome)

	f.clock.Advance(2 * time.Minute)
	res, err = f.engine.Evaluate(ctx, mishima(), rates)
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSent, res.Outcome)
	assert.Equal(t, domain.ThresholdHeavy, res.Record.ThresholdKind)
	assert.Equal(t, 2, f.notifier.count())
}

func TestEvaluate_CooldownIsPerPoint(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())
	ctx := context.Background()

	_, err := f.engine.Evaluate(ctx, mishima(), map[int]float64{0: 40})
	require.NoError(t, err)

	other := mishima()
	other.Name = "Numazu"
	res, err := f.engine.Evaluate(ctx, other, map[int]float64{0: 40})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSent, res.Outcome)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())

	res, err := f.engine.Evaluate(context.Background(), mishima(), map[int]float64{0: 20, 15: 29.9})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeBelowThreshold, res.Outcome)
	assert.Zero(t, f.notifier.count())
}

func TestEvaluate_LocationThresholdsOverrideEachField(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())
	loc := mishima()
	loc.Thresholds = domain.Thresholds{Heavy: 10}

	res, err := f.engine.Evaluate(context.Background(), loc, map[int]float64{0: 20})
	require.NoError(t, err)
	require.Equal(t, notify.OutcomeSent, res.Outcome)
	assert.Equal(t, domain.ThresholdHeavy, res.Record.ThresholdKind)
	assert.Contains(t, f.notifier.sent[0].Body, "heavy 10 mm/h, torrential 50 mm/h")
}

func TestEvaluate_PeakTieReportsEarliestLead(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())

	_, err := f.engine.Evaluate(context.Background(), mishima(), map[int]float64{45: 50, 15: 50, 0: 5})
	require.NoError(t, err)
	require.Equal(t, 1, f.notifier.count())
	assert.Contains(t, f.notifier.sent[0].Body, "(15 min ahead)")
}

func TestEvaluate_SendFailureWritesNoRecord(t *testing.T) {
	f := newFixture(t, noon, defaultSettings())
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	res, err := f.engine.Evaluate(ctx, mishima(), map[int]float64{0: 80})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSendFailed, res.Outcome)

	alerts, err := f.store.CountAlertsSince(ctx, noon.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, alerts)

	// Eligible again on the next cycle.
	f.notifier.err = nil
	f.clock.Advance(5 * time.Minute)
	res, err = f.engine.Evaluate(ctx, mishima(), map[int]float64{0: 80})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSent, res.Outcome)
}

func TestEvaluate_Skips(t *testing.T) {
	off := false
	disabledLoc := mishima()
	disabledLoc.Enabled = &off
	noRecipients := mishima()
	noRecipients.Recipients = nil
	globallyOff := defaultSettings()
	globallyOff.Enabled = false

	tests := []struct {
		name     string
		settings notify.Settings
		loc      domain.MonitoredLocation
		want     notify.Outcome
	}{
		{"notifications disabled", globallyOff, mishima(), notify.OutcomeDisabled},
		{"location disabled", defaultSettings(), disabledLoc, notify.OutcomeDisabled},
		{"no recipients", defaultSettings(), noRecipients, notify.OutcomeNoRecipients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noon, tt.settings)
			res, err := f.engine.Evaluate(context.Background(), tt.loc, map[int]float64{0: 100})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Zero(t, f.notifier.count())
		})
	}
}

func TestEvaluate_NilNotifier(t *testing.T) {
	clock := clockwork.NewFakeClockAt(noon)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := notify.NewEngine(defaultSettings(), nil, nil, clock, observability.NewMetricsForTesting(), logger)

	res, err := e.Evaluate(context.Background(), mishima(), map[int]float64{0: 100})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeDisabled, res.Outcome)
}

func TestCheckAdminHeartbeat_SendsOncePerSlot(t *testing.T) {
	nine := time.Date(2024, 6, 1, 9, 0, 0, 0, domain.JST)
	f := newFixture(t, nine.Add(-30*time.Minute), defaultSettings())
	ctx := context.Background()

	off := false
	locations := []domain.MonitoredLocation{
		mishima(),
		{Name: "Numazu", Lat: 35.1, Lon: 138.86},
		{Name: "Atami", Lat: 35.1, Lon: 139.07, Enabled: &off},
	}

	// Observation recorded within the hour before the report.
	require.NoError(t, f.store.Append(ctx, domain.Observation{
		PointName: "Mishima", ValidTime: nine, LeadMin: 0, Rate: 12.5,
	}))
	require.NoError(t, f.store.AppendNotification(ctx, domain.NotificationRecord{
		PointName: "Mishima", Kind: domain.KindThresholdAlert, Rate: 40,
		ThresholdKind: domain.ThresholdHeavy,
	}))

	res, err := f.engine.CheckAdminHeartbeat(ctx, locations)
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeNotScheduled, res.Outcome)

	f.clock.Advance(30 * time.Minute)
	res, err = f.engine.CheckAdminHeartbeat(ctx, locations)
	require.NoError(t, err)
	require.Equal(t, notify.OutcomeSent, res.Outcome)
	assert.Equal(t, domain.AdminPoint, res.Record.PointName)
	assert.Equal(t, domain.ThresholdNone, res.Record.ThresholdKind)

	require.Equal(t, 1, f.notifier.count())
	msg := f.notifier.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, msg.Recipients)
	assert.Equal(t, "[Rain monitor] Status report - 2024-06-01 09:00", msg.Subject)
	assert.Contains(t, msg.Body, "Mishima: 1 rows, ok, max 12.5 mm/h")
	assert.Contains(t, msg.Body, "Numazu: 0 rows, no data")
	assert.Contains(t, msg.Body, "Atami: 0 rows, disabled")
	assert.Contains(t, msg.Body, "Active locations: 1/3")
	assert.Contains(t, msg.Body, "Alerts sent in the last 24 hours: 1")
	assert.Contains(t, msg.Body, "Scheduled reports: 09:00, 17:00")

	// Another cycle in the same minute is deduplicated.
	f.clock.Advance(30 * time.Second)
	res, err = f.engine.CheckAdminHeartbeat(ctx, locations)
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeAlreadySent, res.Outcome)
	assert.Equal(t, 1, f.notifier.count())
}

func TestCheckAdminHeartbeat_NoAdminRecipients(t *testing.T) {
	settings := defaultSettings()
	settings.AdminRecipients = nil
	f := newFixture(t, time.Date(2024, 6, 1, 17, 0, 0, 0, domain.JST), settings)

	res, err := f.engine.CheckAdminHeartbeat(context.Background(), []domain.MonitoredLocation{mishima()})
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeNoRecipients, res.Outcome)
	assert.Zero(t, f.notifier.count())
}

func TestCheckAdminHeartbeat_UsesJST(t *testing.T) {
	// 08:00 UTC is 17:00 JST.
	f := newFixture(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), defaultSettings())

	res, err := f.engine.CheckAdminHeartbeat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, notify.OutcomeSent, res.Outcome)
}
