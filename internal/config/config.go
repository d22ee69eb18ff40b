package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/notifier"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Feed and ingestion.
	BaseURL           string
	Zoom              int
	Leads             []int
	Interval          time.Duration
	MonitoringEnabled bool
	SampleWindow      int
	DecodeWorkers     int
	HTTPTimeout       time.Duration
	FetchRPS          float64
	SuppressWarnings  bool

	// Storage and process files.
	DBPath        string
	RetentionDays int
	HeartbeatPath string
	LockPath      string
	LocationsFile string

	Thresholds domain.Thresholds

	// Notifications.
	NotifyEnabled   bool
	Cooldown        time.Duration
	AdminRecipients []string
	AdminTimes      []string
	Transport       string
	WebhookURL      string
	SMTPAddr        string
	SMTPFrom        string
	SMTPUsername    string
	SMTPPassword    string

	// Optional event stream; disabled when no brokers are set.
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseURL:       strings.TrimRight(sharedcfg.EnvOrDefault("NOWCAST_BASE_URL", "https://www.jma.go.jp/bosai/jmatile/data/nowc"), "/"),
		DBPath:        sharedcfg.EnvOrDefault("NOWCAST_DB_PATH", "data/nowcast.sqlite"),
		HeartbeatPath: sharedcfg.EnvOrDefault("NOWCAST_HEARTBEAT_PATH", "logs/monitor_heartbeat.json"),
		LockPath:      sharedcfg.EnvOrDefault("NOWCAST_LOCK_PATH", "logs/monitor.lock"),
		LocationsFile: sharedcfg.EnvOrDefault("NOWCAST_LOCATIONS_FILE", "locations.yaml"),

		Transport:    strings.ToLower(sharedcfg.EnvOrDefault("NOTIFY_TRANSPORT", notifier.TransportLog)),
		WebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "nowcast-events"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}
	cfg.AdminRecipients = parseList(os.Getenv("NOTIFY_ADMIN_RECIPIENTS"))

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.Zoom, err = parseInt("NOWCAST_ZOOM", 10, 0, 18)
	collect(err)
	cfg.Leads, err = parseLeads("NOWCAST_LEADS", "0,15,30,45,60")
	collect(err)
	cfg.Interval, err = parseDuration("NOWCAST_INTERVAL", "5m")
	collect(err)
	cfg.MonitoringEnabled, err = parseBool("NOWCAST_MONITORING_ENABLED", true)
	collect(err)
	cfg.SampleWindow, err = parseInt("NOWCAST_SAMPLE_WINDOW", domain.DefaultSampleWindow, 1, domain.TileSize)
	collect(err)
	cfg.DecodeWorkers, err = parseInt("NOWCAST_DECODE_WORKERS", 1, 1, 64)
	collect(err)
	cfg.HTTPTimeout, err = parseDuration("NOWCAST_HTTP_TIMEOUT", "10s")
	collect(err)
	cfg.FetchRPS, err = parseFloat("NOWCAST_FETCH_RPS", 5)
	collect(err)
	cfg.SuppressWarnings, err = parseBool("NOWCAST_SUPPRESS_WARNINGS", true)
	collect(err)
	cfg.RetentionDays, err = parseInt("NOWCAST_RETENTION_DAYS", 3, 0, 3650)
	collect(err)
	cfg.Thresholds.Heavy, err = parseFloat("HEAVY_RAIN_MMH", 30)
	collect(err)
	cfg.Thresholds.Torrential, err = parseFloat("TORRENTIAL_RAIN_MMH", 50)
	collect(err)
	cfg.NotifyEnabled, err = parseBool("NOTIFY_ENABLED", true)
	collect(err)
	cfg.Cooldown, err = parseDuration("NOTIFY_COOLDOWN", "30m")
	collect(err)
	cfg.AdminTimes, err = parseTimes("NOTIFY_ADMIN_TIMES", "09:00,17:00")
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("NOWCAST_BASE_URL is required")
	}
	if c.Thresholds.Torrential < c.Thresholds.Heavy {
		return errors.New("TORRENTIAL_RAIN_MMH must not be below HEAVY_RAIN_MMH")
	}
	switch c.Transport {
	case notifier.TransportLog, notifier.TransportNone:
	case notifier.TransportWebhook:
		if c.WebhookURL == "" {
			return errors.New("NOTIFY_TRANSPORT is webhook but NOTIFY_WEBHOOK_URL is not set")
		}
	case notifier.TransportSMTP:
		if c.SMTPAddr == "" || c.SMTPFrom == "" {
			return errors.New("NOTIFY_TRANSPORT is smtp but SMTP_ADDR or SMTP_FROM is not set")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_TRANSPORT %q", c.Transport)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: want an integer in [%d, %d]", key, s, lo, hi)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive number", key, s)
	}
	return f, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, s)
	}
	return b, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLeads reads a comma-separated list of non-negative minute offsets,
// returned sorted and deduplicated.
func parseLeads(key, def string) ([]int, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	seen := make(map[int]bool)
	var leads []int
	for _, part := range parseList(s) {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s %q: leads are non-negative minutes", key, s)
		}
		if !seen[n] {
			seen[n] = true
			leads = append(leads, n)
		}
	}
	if len(leads) == 0 {
		return nil, fmt.Errorf("%s must list at least one lead", key)
	}
	sort.Ints(leads)
	return leads, nil
}

func parseTimes(key, def string) ([]string, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	times := parseList(s)
	for i, t := range times {
		parsed, err := time.Parse("15:04", t)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: want HH:MM", key, t)
		}
		times[i] = parsed.Format("15:04")
	}
	return times, nil
}
