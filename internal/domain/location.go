package domain

// Thresholds are rainfall rates in mm/h that trigger an alert.
// A zero field means "not set".
type Thresholds struct {
	Heavy      float64 `yaml:"heavy" json:"heavy,omitempty"`
	Torrential float64 `yaml:"torrential" json:"torrential,omitempty"`
}

// Merge returns t with unset fields taken from fallback.
func (t Thresholds) Merge(fallback Thresholds) Thresholds {
	if t.Heavy <= 0 {
		t.Heavy = fallback.Heavy
	}
	if t.Torrential <= 0 {
		t.Torrential = fallback.Torrential
	}
	return t
}

// Classify returns the threshold kind reached by rate.
func (t Thresholds) Classify(rate float64) ThresholdKind {
	switch {
	case rate >= t.Torrential:
		return ThresholdTorrential
	case rate >= t.Heavy:
		return ThresholdHeavy
	default:
		return ThresholdNone
	}
}

// MonitoredLocation is a named point whose rainfall is tracked.
type MonitoredLocation struct {
	Name       string     `yaml:"name"`
	Lat        float64    `yaml:"lat"`
	Lon        float64    `yaml:"lon"`
	Recipients []string   `yaml:"recipients"`
	Thresholds Thresholds `yaml:"thresholds"`
	Enabled    *bool      `yaml:"enabled"`
}

// IsEnabled reports whether the location is monitored. Locations are enabled
// unless explicitly switched off.
func (l MonitoredLocation) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}
