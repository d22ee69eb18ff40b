package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// idleCheckInterval is how often a disabled monitor re-checks its switch.
const idleCheckInterval = time.Minute

// Pass runs one ingestion pass.
type Pass interface {
	Run(ctx context.Context, locations []domain.MonitoredLocation) (Summary, error)
}

// LocationSource returns the locations to monitor. It is called before
// every pass so edits to the locations file take effect without a restart.
type LocationSource func() ([]domain.MonitoredLocation, error)

// HeartbeatWriter persists the per-pass heartbeat.
type HeartbeatWriter interface {
	Write(hb domain.Heartbeat) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Interval          time.Duration
	MonitoringEnabled func() bool
}

// Runner drives passes on a fixed interval and records their outcome.
type Runner struct {
	pass      Pass
	locations LocationSource
	heartbeat HeartbeatWriter
	clock     clockwork.Clock
	cfg       RunnerConfig
	metrics   *observability.Metrics
	logger    *slog.Logger
	ready     atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(pass Pass, locations LocationSource, heartbeat HeartbeatWriter, clock clockwork.Clock, cfg RunnerConfig, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	if cfg.MonitoringEnabled == nil {
		cfg.MonitoringEnabled = func() bool { return true }
	}
	return &Runner{
		pass:      pass,
		locations: locations,
		heartbeat: heartbeat,
		clock:     clock,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// CheckReadiness returns nil once a pass has completed successfully.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no successful ingestion cycle yet")
	}
	return nil
}

// Run executes a pass immediately and then every interval until ctx is
// cancelled. Cancellation is only observed between passes; a pass in
// progress runs to completion.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("monitor started", "interval", r.cfg.Interval)
	r.metrics.MonitorRunning.Set(1)
	defer r.metrics.MonitorRunning.Set(0)

	for {
		wait := r.cfg.Interval
		if r.cfg.MonitoringEnabled() {
			_, _ = r.RunOnce(context.WithoutCancel(ctx))
		} else {
			r.logger.Info("monitoring disabled, idling")
			wait = idleCheckInterval
		}

		if !sleepWithContext(ctx, r.clock, wait) {
			r.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunOnce executes a single pass, writes the heartbeat and returns the
// pass summary. Panics inside the pass are recovered and reported as errors.
func (r *Runner) RunOnce(ctx context.Context) (summary Summary, err error) {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	start := r.clock.Now()
	logger.Info("cycle started")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}
		r.finish(logger, runID, start, summary, err)
	}()

	locations, err := r.locations()
	if err != nil {
		return Summary{}, fmt.Errorf("load locations: %w", err)
	}
	return r.pass.Run(ctx, locations)
}

func (r *Runner) finish(logger *slog.Logger, runID string, start time.Time, summary Summary, err error) {
	elapsed := r.clock.Since(start)
	r.metrics.CycleDuration.Observe(elapsed.Seconds())

	hb := domain.Heartbeat{
		LastRun: domain.FormatStoreTime(r.clock.Now()),
		OK:      err == nil,
		Status:  summary.Status,
		RunID:   runID,
	}
	if err != nil {
		hb.Status = domain.HeartbeatFailed
		hb.Error = err.Error()
		r.metrics.LastCycleSuccess.Set(0)
		logger.Error("cycle failed", "error", err, "duration", elapsed)
	} else {
		if hb.Status == "" {
			hb.Status = domain.HeartbeatOK
		}
		r.metrics.LastCycleSuccess.Set(1)
		r.ready.Store(true)
		logger.Info("cycle finished",
			"status", summary.Status,
			"observations", summary.Observations,
			"decode_errors", summary.DecodeErrors,
			"alerts", summary.Alerts,
			"duration", elapsed,
		)
	}
	r.metrics.Cycles.WithLabelValues(hb.Status).Inc()

	if werr := r.heartbeat.Write(hb); werr != nil {
		logger.Warn("heartbeat write failed", "error", werr)
	}
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
