// Package cycle runs the ingestion pass: purge, resolve frames, decode every
// (location, lead) pair, store observations and evaluate notifications.
package cycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/notify"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Resolver maps leads to catalog frames.
type Resolver interface {
	Resolve(ctx context.Context, leads []int) map[int]domain.TimePair
}

// Decoder reads the rainfall rate for a point in a frame.
type Decoder interface {
	Decode(ctx context.Context, lat, lon float64, basetime, validtime string) (domain.Reading, error)
}

// Store persists observations and applies retention.
type Store interface {
	Append(ctx context.Context, obs domain.Observation) error
	PurgeOlderThan(ctx context.Context, retentionDays int) (domain.PurgeResult, error)
}

// Engine evaluates alerts and the admin report.
type Engine interface {
	Evaluate(ctx context.Context, loc domain.MonitoredLocation, rates map[int]float64) (notify.Result, error)
	CheckAdminHeartbeat(ctx context.Context, locations []domain.MonitoredLocation) (notify.Result, error)
}

// EventSink receives stored observations and sent notifications.
type EventSink interface {
	PublishObservations(ctx context.Context, observations []domain.Observation) error
	PublishNotification(ctx context.Context, rec domain.NotificationRecord) error
}

// Options tunes a Cycle.
type Options struct {
	Leads            []int
	RetentionDays    int
	Workers          int
	SuppressWarnings bool
}

// Summary describes a completed pass.
type Summary struct {
	Status       string // domain.HeartbeatOK or domain.HeartbeatNoData
	Observations int
	DecodeErrors int
	Alerts       int
}

// Cycle is one ingestion pass over the configured locations.
type Cycle struct {
	resolver Resolver
	decoder  Decoder
	store    Store
	engine   Engine
	sink     EventSink
	clock    clockwork.Clock
	opts     Options
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a Cycle. sink may be nil.
func New(resolver Resolver, decoder Decoder, store Store, engine Engine, sink EventSink, clock clockwork.Clock, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Cycle {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Cycle{
		resolver: resolver,
		decoder:  decoder,
		store:    store,
		engine:   engine,
		sink:     sink,
		clock:    clock,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// job is one (location, lead) decode.
type job struct {
	loc     int
	lead    int
	pair    domain.TimePair
	reading domain.Reading
	err     error
}

// Run executes one pass. Errors returned are cycle-fatal: purge and store
// failures. Per-pair decode failures are logged and skipped.
func (c *Cycle) Run(ctx context.Context, locations []domain.MonitoredLocation) (Summary, error) {
	res, err := c.store.PurgeOlderThan(ctx, c.opts.RetentionDays)
	if err != nil {
		return Summary{}, fmt.Errorf("purge: %w", err)
	}
	if res.Observations > 0 || res.Notifications > 0 {
		c.logger.Info("retention purge", "observations", res.Observations, "notifications", res.Notifications)
	}

	frames := c.resolver.Resolve(ctx, c.opts.Leads)
	if len(frames) == 0 {
		c.logger.Warn("no nowcast frames available")
		return Summary{Status: domain.HeartbeatNoData}, nil
	}
	c.logMissingLeads(frames)

	if _, err := c.engine.CheckAdminHeartbeat(ctx, locations); err != nil {
		c.logger.Error("admin report check failed", "error", err)
	}

	jobs := c.plan(locations, frames)
	c.decodeAll(ctx, locations, jobs)

	summary := Summary{Status: domain.HeartbeatOK}
	rates := make([]map[int]float64, len(locations))
	stored := make([]domain.Observation, 0, len(jobs))
	for i := range jobs {
		j := &jobs[i]
		loc := locations[j.loc]
		if j.err != nil {
			summary.DecodeErrors++
			c.logger.Warn("decode failed", "point", loc.Name, "lead", j.lead, "error", j.err)
			continue
		}
		obs := domain.Observation{
			PointName:  loc.Name,
			Lat:        loc.Lat,
			Lon:        loc.Lon,
			BaseTime:   j.pair.BaseTime,
			ValidTime:  j.reading.ValidTime,
			LeadMin:    j.lead,
			Rate:       j.reading.Rate,
			RecordedAt: c.clock.Now(),
		}
		if err := c.store.Append(ctx, obs); err != nil {
			return summary, fmt.Errorf("store observation: %w", err)
		}
		c.metrics.ObservationsStored.Inc()
		c.logger.Debug("observation stored",
			"point", loc.Name, "lead", j.lead, "mmph", j.reading.Rate, "step", j.reading.Step, "url", j.reading.SourceURL)

		if rates[j.loc] == nil {
			rates[j.loc] = make(map[int]float64)
		}
		rates[j.loc][j.lead] = j.reading.Rate
		stored = append(stored, obs)
	}
	summary.Observations = len(stored)

	if c.sink != nil {
		if err := c.sink.PublishObservations(ctx, stored); err != nil {
			c.logger.Warn("publish observations failed", "error", err)
		}
	}

	for i, loc := range locations {
		if len(rates[i]) == 0 {
			continue
		}
		result, err := c.engine.Evaluate(ctx, loc, rates[i])
		if err != nil {
			c.logger.Error("notification evaluation failed", "point", loc.Name, "error", err)
			continue
		}
		if result.Record == nil {
			continue
		}
		summary.Alerts++
		if c.sink != nil {
			if err := c.sink.PublishNotification(ctx, *result.Record); err != nil {
				c.logger.Warn("publish notification failed", "point", loc.Name, "error", err)
			}
		}
	}
	return summary, nil
}

// plan lists the decodes for enabled locations in location then lead order.
func (c *Cycle) plan(locations []domain.MonitoredLocation, frames map[int]domain.TimePair) []job {
	jobs := make([]job, 0, len(locations)*len(c.opts.Leads))
	for i, loc := range locations {
		if !loc.IsEnabled() {
			continue
		}
		for _, lead := range c.opts.Leads {
			pair, ok := frames[lead]
			if !ok {
				continue
			}
			jobs = append(jobs, job{loc: i, lead: lead, pair: pair})
		}
	}
	return jobs
}

// decodeAll fills in every job, running up to Workers decodes at once.
func (c *Cycle) decodeAll(ctx context.Context, locations []domain.MonitoredLocation, jobs []job) {
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i := range jobs {
		j := &jobs[i]
		loc := locations[j.loc]
		g.Go(func() error {
			j.reading, j.err = c.decoder.Decode(ctx, loc.Lat, loc.Lon, j.pair.BaseTime, j.pair.ValidTime)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cycle) logMissingLeads(frames map[int]domain.TimePair) {
	level := slog.LevelWarn
	if c.opts.SuppressWarnings {
		level = slog.LevelDebug
	}
	for _, lead := range c.opts.Leads {
		if _, ok := frames[lead]; !ok {
			c.logger.Log(context.Background(), level, "no frame for lead", "lead", lead)
		}
	}
}
