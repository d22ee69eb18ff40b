package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultLocation is monitored when no locations file exists.
func DefaultLocation() domain.MonitoredLocation {
	return domain.MonitoredLocation{
		Name: "Mishima Station",
		Lat:  35.126474871810345,
		Lon:  138.91109391000256,
	}
}

type locationsFile struct {
	MonitoringEnabled *bool                      `yaml:"monitoring_enabled"`
	Locations         []domain.MonitoredLocation `yaml:"locations"`
}

// LoadLocations reads the monitored locations from a YAML file. A missing
// file yields the default location.
func LoadLocations(path string) ([]domain.MonitoredLocation, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.MonitoredLocation{DefaultLocation()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}
	return ParseLocations(data)
}

// ParseLocations decodes and validates a locations document.
func ParseLocations(data []byte) ([]domain.MonitoredLocation, error) {
	var f locationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}

	seen := make(map[string]bool, len(f.Locations))
	for i, loc := range f.Locations {
		if loc.Name == "" {
			return nil, fmt.Errorf("location %d: name is required", i)
		}
		if seen[loc.Name] {
			return nil, fmt.Errorf("location %q: duplicate name", loc.Name)
		}
		seen[loc.Name] = true
		if math.Abs(loc.Lat) >= domain.MaxLatitude || math.IsNaN(loc.Lat) {
			return nil, fmt.Errorf("location %q: latitude %v out of range", loc.Name, loc.Lat)
		}
		if loc.Lon < -180 || loc.Lon > 180 || math.IsNaN(loc.Lon) {
			return nil, fmt.Errorf("location %q: longitude %v out of range", loc.Name, loc.Lon)
		}
		if loc.Name == domain.AdminPoint {
			return nil, fmt.Errorf("location name %q is reserved", loc.Name)
		}
	}
	return f.Locations, nil
}

// MonitoringSwitch returns a function that re-reads monitoring_enabled from
// the locations file on every call, so operators can pause and resume a
// running monitor. A missing file or key yields def; an unreadable file is
// logged and also yields def.
func MonitoringSwitch(path string, def bool, logger *slog.Logger) func() bool {
	return func() bool {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return def
		}
		if err != nil {
			logger.Warn("read monitoring switch", "path", path, "error", err)
			return def
		}
		var f locationsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			logger.Warn("parse monitoring switch", "path", path, "error", err)
			return def
		}
		if f.MonitoringEnabled == nil {
			return def
		}
		return *f.MonitoringEnabled
	}
}
