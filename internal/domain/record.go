package domain

import "time"

// TimePair identifies one nowcast frame.
type TimePair struct {
	BaseTime  string `json:"basetime"`
	ValidTime string `json:"validtime"`
}

// Reading is the result of decoding one tile pixel.
type Reading struct {
	Rate      float64   // mm/h
	ValidTime time.Time // JST
	SourceURL string
	Step      int
}

// Observation is one decoded rainfall rate. Observations are append-only.
type Observation struct {
	PointName  string    `json:"point_name"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	BaseTime   string    `json:"basetime"`
	ValidTime  time.Time `json:"validtime"`
	LeadMin    int       `json:"lead_min"`
	Rate       float64   `json:"mmph"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NotificationKind distinguishes point alerts from the admin status report.
type NotificationKind string

const (
	KindThresholdAlert NotificationKind = "threshold_alert"
	KindAdminHeartbeat NotificationKind = "admin_heartbeat"
)

// ThresholdKind is the severity an alert was raised for.
type ThresholdKind string

const (
	ThresholdNone       ThresholdKind = "none"
	ThresholdHeavy      ThresholdKind = "heavy"
	ThresholdTorrential ThresholdKind = "torrential"
)

// AdminPoint is the point name recorded for admin heartbeat notifications.
const AdminPoint = "ADMIN"

// NotificationRecord is an audit row for a notification that was sent.
// It is also the source of truth for cooldown and heartbeat dedup.
type NotificationRecord struct {
	PointName     string           `json:"point_name"`
	Kind          NotificationKind `json:"notification_type"`
	Recipients    string           `json:"recipients"`
	Subject       string           `json:"subject"`
	Body          string           `json:"body"`
	Rate          float64          `json:"mmph"`
	ThresholdKind ThresholdKind    `json:"threshold_type"`
	SentAt        time.Time        `json:"sent_at"`
}

// LocationStats summarizes recent observations for one point.
type LocationStats struct {
	Count   int
	MaxRate float64
}

// PurgeResult reports how many rows a retention purge removed.
type PurgeResult struct {
	Observations  int64
	Notifications int64
}

// Heartbeat statuses.
const (
	HeartbeatOK     = "ok"
	HeartbeatNoData = "no_data"
	HeartbeatFailed = "failed"
)

// Heartbeat is the liveness record written after every cycle.
type Heartbeat struct {
	LastRun string `json:"last_run"`
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Error   string `json:"error"`
	RunID   string `json:"run_id,omitempty"`
}
