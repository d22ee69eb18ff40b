package jma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
)

// DefaultZoom is the zoom level at which tiles are sampled.
const DefaultZoom = 10

// ErrTileUnavailable is returned when no tile template yields an image.
var ErrTileUnavailable = errors.New("tile unavailable")

// tileTemplates lists the tile paths in the order they are tried: the
// hrpns layer in both publishing layouts, then the rasrf layer.
// Arguments: base, basetime, validtime, zoom, x, y.
var tileTemplates = []string{
	"%[1]s/%[2]s/none/%[3]s/surf/hrpns/%[4]d/%[5]d/%[6]d.png",
	"%[1]s/%[2]s/%[3]s/surf/hrpns/%[4]d/%[5]d/%[6]d.png",
	"%[1]s/%[2]s/none/%[3]s/surf/rasrf/%[4]d/%[5]d/%[6]d.png",
	"%[1]s/%[2]s/%[3]s/surf/rasrf/%[4]d/%[5]d/%[6]d.png",
}

// Decoder turns a (point, frame) pair into a rainfall rate.
type Decoder struct {
	fetcher *Fetcher
	baseURL string
	zoom    int
	window  int
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDecoder creates a Decoder sampling tiles at zoom with a window x window
// step search.
func NewDecoder(fetcher *Fetcher, baseURL string, zoom, window int, metrics *observability.Metrics, logger *slog.Logger) *Decoder {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if window <= 0 {
		window = domain.DefaultSampleWindow
	}
	return &Decoder{
		fetcher: fetcher,
		baseURL: baseURL,
		zoom:    zoom,
		window:  window,
		metrics: metrics,
		logger:  logger,
	}
}

// Decode fetches the tile covering (lat, lon) for the given frame and
// returns the rainfall rate at that point.
func (d *Decoder) Decode(ctx context.Context, lat, lon float64, basetime, validtime string) (domain.Reading, error) {
	reading, err := d.decode(ctx, lat, lon, basetime, validtime)
	if err != nil {
		d.metrics.Decodes.WithLabelValues("error").Inc()
		return domain.Reading{}, err
	}
	d.metrics.Decodes.WithLabelValues("ok").Inc()
	return reading, nil
}

func (d *Decoder) decode(ctx context.Context, lat, lon float64, basetime, validtime string) (domain.Reading, error) {
	vt, err := domain.ParseCatalogTime(validtime)
	if err != nil {
		return domain.Reading{}, err
	}
	x, y, err := domain.TileIndex(lat, lon, d.zoom)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("tile index (%.6f, %.6f): %w", lat, lon, err)
	}
	px, py, err := domain.PixelInTile(lat, lon, d.zoom)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("pixel in tile (%.6f, %.6f): %w", lat, lon, err)
	}

	img, url, err := d.fetchTile(ctx, basetime, validtime, x, y)
	if err != nil {
		return domain.Reading{}, err
	}

	rate, step := domain.SampleRate(img, px, py, d.window)
	return domain.Reading{
		Rate:      rate,
		ValidTime: vt.In(domain.JST),
		SourceURL: url,
		Step:      step,
	}, nil
}

// TileURLs returns the candidate URLs for a tile in the order they are tried.
func (d *Decoder) TileURLs(basetime, validtime string, x, y int) []string {
	urls := make([]string, len(tileTemplates))
	for i, tmpl := range tileTemplates {
		urls[i] = fmt.Sprintf(tmpl, d.baseURL, basetime, validtime, d.zoom, x, y)
	}
	return urls
}

// fetchTile tries each template in turn. A 404 moves on silently; any other
// failure is remembered and reported if no template succeeds.
func (d *Decoder) fetchTile(ctx context.Context, basetime, validtime string, x, y int) (image.Image, string, error) {
	var lastErr error
	for _, url := range d.TileURLs(basetime, validtime, x, y) {
		resp, err := d.fetcher.Get(ctx, RequestTile, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		switch resp.Status {
		case http.StatusOK:
			img, err := png.Decode(bytes.NewReader(resp.Body))
			if err != nil {
				lastErr = fmt.Errorf("decode png %s: %w", url, err)
				continue
			}
			return img, url, nil
		case http.StatusNotFound:
			d.logger.Debug("tile not found, trying next layout", "url", url)
			continue
		default:
			lastErr = fmt.Errorf("%s: status %d", url, resp.Status)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("not found in any layout")
	}
	return nil, "", fmt.Errorf("%w: %w", ErrTileUnavailable, lastErr)
}
