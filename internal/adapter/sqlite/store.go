// Package sqlite persists observations and the notification audit log in a
// single SQLite database shared with the dashboard.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS nowcast (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	point_name TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	basetime TEXT NOT NULL,
	validtime TEXT NOT NULL,
	lead_min INTEGER NOT NULL,
	mmph REAL NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nowcast_point_lead ON nowcast(point_name, lead_min, validtime);
CREATE INDEX IF NOT EXISTS idx_nowcast_validtime ON nowcast(validtime);
CREATE INDEX IF NOT EXISTS idx_nowcast_recorded_at ON nowcast(recorded_at);

CREATE TABLE IF NOT EXISTS notification_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	point_name TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	mmph REAL NOT NULL DEFAULT 0,
	threshold_type TEXT NOT NULL DEFAULT 'none',
	sent_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_point_type ON notification_history(point_name, notification_type, sent_at);
CREATE INDEX IF NOT EXISTS idx_notification_sent_at ON notification_history(sent_at);
`

// Store is the observation and notification store.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers and keeps WAL readers consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts one observation. Observations are never updated.
func (s *Store) Append(ctx context.Context, obs domain.Observation) error {
	recordedAt := obs.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nowcast (point_name, lat, lon, basetime, validtime, lead_min, mmph, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.PointName, obs.Lat, obs.Lon, obs.BaseTime,
		domain.FormatStoreTime(obs.ValidTime), obs.LeadMin, obs.Rate,
		domain.FormatStoreTime(recordedAt),
	)
	if err != nil {
		return fmt.Errorf("append observation %s/%d: %w", obs.PointName, obs.LeadMin, err)
	}
	return nil
}

// LatestRatePerLead returns, for each lead, the rate of the most recent
// observation by validtime. Leads with no rows are absent from the map.
func (s *Store) LatestRatePerLead(ctx context.Context, point string, leads []int) (map[int]float64, error) {
	out := make(map[int]float64, len(leads))
	for _, lead := range leads {
		var rate float64
		err := s.db.QueryRowContext(ctx,
			`SELECT mmph FROM nowcast
			 WHERE point_name = ? AND lead_min = ?
			 ORDER BY validtime DESC, id DESC LIMIT 1`,
			point, lead,
		).Scan(&rate)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest rate %s/%d: %w", point, lead, err)
		}
		out[lead] = rate
	}
	return out, nil
}

// PurgeOlderThan deletes observations whose validtime is older than
// retentionDays and notification records older than twice that. Zero days
// keeps only rows at or after now.
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays int) (domain.PurgeResult, error) {
	if retentionDays < 0 {
		return domain.PurgeResult{}, fmt.Errorf("purge: negative retention %d", retentionDays)
	}
	now := s.clock.Now()
	obsCutoff := domain.FormatStoreTime(now.AddDate(0, 0, -retentionDays))
	notifyCutoff := domain.FormatStoreTime(now.AddDate(0, 0, -2*retentionDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("purge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res domain.PurgeResult
	r, err := tx.ExecContext(ctx, `DELETE FROM nowcast WHERE validtime < ?`, obsCutoff)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("purge observations: %w", err)
	}
	res.Observations, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, `DELETE FROM notification_history WHERE sent_at < ?`, notifyCutoff)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("purge notifications: %w", err)
	}
	res.Notifications, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return domain.PurgeResult{}, fmt.Errorf("purge: commit: %w", err)
	}
	return res, nil
}

// Count returns the number of stored observations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nowcast`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// LatestRecordedAt returns the newest recorded_at, or false when empty.
func (s *Store) LatestRecordedAt(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(recorded_at) FROM nowcast`).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("latest recorded_at: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	t, err := domain.ParseStoreTime(v.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest recorded_at: %w", err)
	}
	return t, true, nil
}

// AppendNotification records a notification that was sent.
func (s *Store) AppendNotification(ctx context.Context, rec domain.NotificationRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = s.clock.Now()
	}
	kind := rec.ThresholdKind
	if kind == "" {
		kind = domain.ThresholdNone
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_history
		 (point_name, notification_type, recipients, subject, body, mmph, threshold_type, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PointName, string(rec.Kind), rec.Recipients, rec.Subject, rec.Body,
		rec.Rate, string(kind), domain.FormatStoreTime(sentAt),
	)
	if err != nil {
		return fmt.Errorf("append notification %s/%s: %w", rec.PointName, rec.Kind, err)
	}
	return nil
}

// AlertSentSince reports whether a threshold alert for point was sent
// strictly after since.
func (s *Store) AlertSentSince(ctx context.Context, point string, since time.Time) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM notification_history
		 WHERE point_name = ? AND notification_type = ? AND sent_at > ? LIMIT 1`,
		point, string(domain.KindThresholdAlert), domain.FormatStoreTime(since),
	)
}

// HeartbeatSentSince reports whether an admin heartbeat was sent strictly
// after since.
func (s *Store) HeartbeatSentSince(ctx context.Context, since time.Time) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM notification_history
		 WHERE notification_type = ? AND sent_at > ? LIMIT 1`,
		string(domain.KindAdminHeartbeat), domain.FormatStoreTime(since),
	)
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query notification history: %w", err)
	}
	return true, nil
}

// LocationStatsSince aggregates observations recorded at or after since,
// keyed by point name.
func (s *Store) LocationStatsSince(ctx context.Context, since time.Time) (map[string]domain.LocationStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_name, COUNT(*), MAX(mmph) FROM nowcast
		 WHERE recorded_at >= ? GROUP BY point_name`,
		domain.FormatStoreTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("location stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.LocationStats)
	for rows.Next() {
		var (
			name  string
			stats domain.LocationStats
		)
		if err := rows.Scan(&name, &stats.Count, &stats.MaxRate); err != nil {
			return nil, fmt.Errorf("location stats: scan: %w", err)
		}
		out[name] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("location stats: %w", err)
	}
	return out, nil
}

// CountAlertsSince counts threshold alerts sent strictly after since.
func (s *Store) CountAlertsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history WHERE notification_type = ? AND sent_at > ?`,
		string(domain.KindThresholdAlert), domain.FormatStoreTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
