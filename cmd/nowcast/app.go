package main

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/jma"
	kafkaadapter "github.com/couchcryptid/nowcast-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/notifier"
	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/sqlite"
	"github.com/couchcryptid/nowcast-alert-service/internal/config"
	"github.com/couchcryptid/nowcast-alert-service/internal/cycle"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/notify"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
)

// app holds the wired service components shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	store     *sqlite.Store
	publisher *kafkaadapter.Publisher
	notifier  notify.Notifier
	heartbeat *cycle.FileHeartbeat
	runner    *cycle.Runner
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "nowcast-alert")
	return cfg, logger, nil
}

// newApp opens the store and builds the ingestion pipeline. Callers must
// Close the returned app.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	store, err := sqlite.Open(cfg.DBPath, clock)
	if err != nil {
		return nil, err
	}

	n, err := newNotifier(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     store,
		notifier:  n,
		heartbeat: cycle.NewFileHeartbeat(cfg.HeartbeatPath),
	}

	var sink cycle.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sink = a.publisher
		logger.Info("event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	fetcher := jma.NewFetcher(cfg.HTTPTimeout, cfg.FetchRPS, metrics, logger)
	resolver := jma.NewResolver(fetcher, cfg.BaseURL, clock, metrics, logger)
	decoder := jma.NewDecoder(fetcher, cfg.BaseURL, cfg.Zoom, cfg.SampleWindow, metrics, logger)

	engine := notify.NewEngine(notify.Settings{
		Enabled:         cfg.NotifyEnabled,
		Cooldown:        cfg.Cooldown,
		Thresholds:      cfg.Thresholds,
		AdminRecipients: cfg.AdminRecipients,
		AdminTimes:      cfg.AdminTimes,
		Interval:        cfg.Interval,
		RetentionDays:   cfg.RetentionDays,
	}, store, n, clock, metrics, logger)

	pass := cycle.New(resolver, decoder, store, engine, sink, clock, cycle.Options{
		Leads:            cfg.Leads,
		RetentionDays:    cfg.RetentionDays,
		Workers:          cfg.DecodeWorkers,
		SuppressWarnings: cfg.SuppressWarnings,
	}, metrics, logger)

	a.runner = cycle.NewRunner(pass, a.locations, a.heartbeat, clock, cycle.RunnerConfig{
		Interval:          cfg.Interval,
		MonitoringEnabled: config.MonitoringSwitch(cfg.LocationsFile, cfg.MonitoringEnabled, logger),
	}, metrics, logger)

	return a, nil
}

func (a *app) locations() ([]domain.MonitoredLocation, error) {
	return config.LoadLocations(a.cfg.LocationsFile)
}

// Close releases the store and the event stream writer.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	return notifier.New(notifier.Config{
		Transport:  cfg.Transport,
		WebhookURL: cfg.WebhookURL,
		SMTP: notifier.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		},
	}, logger)
}
