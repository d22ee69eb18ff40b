package jma

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFetcher builds a Fetcher that retries immediately.
func testFetcher() *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: 2 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
		},
		metrics: observability.NewMetricsForTesting(),
		logger:  discardLogger(),
	}
}

// pngTile encodes a paletted 256x256 tile where pixel (px, py) has colour c.
func pngTile(t *testing.T, px, py int, c color.NRGBA, index uint8) []byte {
	t.Helper()
	pal := color.Palette{color.NRGBA{}}
	for i := 1; i < 256; i++ {
		pal = append(pal, color.NRGBA{R: uint8(i), G: uint8(i), B: uint8(i), A: 255})
	}
	pal[index] = c
	img := image.NewPaletted(image.Rect(0, 0, domain.TileSize, domain.TileSize), pal)
	img.SetColorIndex(px, py, index)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}
