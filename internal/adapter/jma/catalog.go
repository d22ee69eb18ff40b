package jma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Catalog kinds published by the feed.
const (
	KindLatest   = "N1"
	KindForecast = "N2"
)

// CatalogTTL bounds how often each catalog is fetched.
const CatalogTTL = 60 * time.Second

// ErrCatalogEmpty is returned when a catalog has no usable entries.
var ErrCatalogEmpty = errors.New("time catalog is empty")

// cacheEntry holds one fetched catalog.
type cacheEntry struct {
	fetchedAt time.Time
	entries   []domain.TimePair
}

// catalogCache keeps the most recent fetch per catalog kind.
type catalogCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func (c *catalogCache) get(kind string, now time.Time, ttl time.Duration) ([]domain.TimePair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[kind]
	if !ok || now.Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return e.entries, true
}

func (c *catalogCache) put(kind string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kind] = e
}

// Resolver picks the (basetime, validtime) frame for each requested lead.
type Resolver struct {
	fetcher *Fetcher
	baseURL string
	clock   clockwork.Clock
	cache   *catalogCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver reading catalogs from baseURL.
func NewResolver(fetcher *Fetcher, baseURL string, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		baseURL: baseURL,
		clock:   clock,
		cache:   &catalogCache{entries: make(map[string]cacheEntry)},
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve maps each lead (minutes) to a catalog frame. Leads whose catalog
// could not be fetched or is empty are left out of the result.
func (r *Resolver) Resolve(ctx context.Context, leads []int) map[int]domain.TimePair {
	out := make(map[int]domain.TimePair, len(leads))

	var wantLatest, wantForecast bool
	for _, lead := range leads {
		if lead == 0 {
			wantLatest = true
		} else if lead > 0 {
			wantForecast = true
		}
	}

	if wantLatest {
		latest, err := r.catalog(ctx, KindLatest)
		if err != nil {
			r.logger.Warn("latest catalog unavailable", "kind", KindLatest, "error", err)
		} else {
			out[0] = latest[0]
		}
	}

	if !wantForecast {
		return out
	}
	forecast, err := r.catalog(ctx, KindForecast)
	if err != nil {
		r.logger.Warn("forecast catalog unavailable", "kind", KindForecast, "error", err)
		return out
	}

	now := r.clock.Now()
	for _, lead := range leads {
		if lead <= 0 {
			continue
		}
		target := now.Add(time.Duration(lead) * time.Minute).UTC().Truncate(time.Second)
		if pair, ok := Nearest(forecast, target); ok {
			out[lead] = pair
		}
	}
	return out
}

// Nearest returns the entry whose validtime is closest to target. On a tie
// the first entry scanned wins. Entries with unparseable validtimes are skipped.
func Nearest(entries []domain.TimePair, target time.Time) (domain.TimePair, bool) {
	var (
		best    domain.TimePair
		bestAbs time.Duration
		found   bool
	)
	for _, e := range entries {
		vt, err := domain.ParseCatalogTime(e.ValidTime)
		if err != nil {
			continue
		}
		diff := vt.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestAbs {
			best, bestAbs, found = e, diff, true
		}
	}
	return best, found
}

// catalog returns the normalized catalog for kind, from cache when fresh.
func (r *Resolver) catalog(ctx context.Context, kind string) ([]domain.TimePair, error) {
	now := r.clock.Now()
	if entries, ok := r.cache.get(kind, now, CatalogTTL); ok {
		r.metrics.CatalogFetches.WithLabelValues(kind, "hit").Inc()
		return entries, nil
	}

	url := fmt.Sprintf("%s/targetTimes_%s.json", r.baseURL, kind)
	resp, err := r.fetcher.Get(ctx, RequestCatalog, url)
	if err != nil {
		r.metrics.CatalogFetches.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	if resp.Status != http.StatusOK {
		r.metrics.CatalogFetches.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("fetch catalog %s: status %d", kind, resp.Status)
	}

	entries, err := NormalizeCatalog(resp.Body)
	if err != nil {
		r.metrics.CatalogFetches.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("catalog %s: %w", kind, err)
	}
	if len(entries) == 0 {
		r.metrics.CatalogFetches.WithLabelValues(kind, "empty").Inc()
		return nil, ErrCatalogEmpty
	}

	r.cache.put(kind, cacheEntry{fetchedAt: now, entries: entries})
	r.metrics.CatalogFetches.WithLabelValues(kind, "fetched").Inc()
	return entries, nil
}

// NormalizeCatalog decodes a catalog document into time pairs sorted by
// validtime, newest first. Items may be bare timestamp strings (used as both
// basetime and validtime) or objects with basetime and validtime. Anything
// else is dropped.
func NormalizeCatalog(data []byte) ([]domain.TimePair, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	out := make([]domain.TimePair, 0, len(items))
	for _, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				out = append(out, domain.TimePair{BaseTime: s, ValidTime: s})
			}
			continue
		}
		var obj struct {
			BaseTime  *string `json:"basetime"`
			ValidTime *string `json:"validtime"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		if obj.BaseTime == nil || obj.ValidTime == nil {
			continue
		}
		out = append(out, domain.TimePair{BaseTime: *obj.BaseTime, ValidTime: *obj.ValidTime})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValidTime > out[j].ValidTime
	})
	return out, nil
}
