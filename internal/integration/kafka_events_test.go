//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/jma"
	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/nowcast-alert-service/internal/adapter/sqlite"
	"github.com/couchcryptid/nowcast-alert-service/internal/config"
	"github.com/couchcryptid/nowcast-alert-service/internal/cycle"
	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/couchcryptid/nowcast-alert-service/internal/notify"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "nowcast-events-test"

// event holds a message read back from the topic.
type event struct {
	Key     string
	Headers map[string]string
	Value   []byte
}

func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) event {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return event{Key: string(msg.Key), Headers: headers, Value: msg.Value}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestPublisherRoundTrip verifies observations and notifications reach the
// topic with their keys and headers.
func TestPublisherRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	pub := kafka.NewPublisher([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	recorded := time.Date(2024, 4, 26, 15, 12, 30, 0, domain.JST)
	obs := domain.Observation{
		PointName:  "Mishima",
		Lat:        35.1264,
		Lon:        138.9106,
		BaseTime:   "20240426061000",
		ValidTime:  time.Date(2024, 4, 26, 15, 25, 0, 0, domain.JST),
		LeadMin:    15,
		Rate:       50,
		RecordedAt: recorded,
	}
	require.NoError(t, pub.PublishObservations(ctx, []domain.Observation{obs}))
	require.NoError(t, pub.PublishNotification(ctx, domain.NotificationRecord{
		PointName:     "Mishima",
		Kind:          domain.KindThresholdAlert,
		Recipients:    "ops@example.com",
		Subject:       "[Rain alert] Mishima - Torrential rain",
		Rate:          50,
		ThresholdKind: domain.ThresholdTorrential,
		SentAt:        recorded,
	}))

	consumer := newConsumer(t, broker)

	first := readEvent(ctx, t, consumer)
	assert.Equal(t, "Mishima", first.Key)
	assert.Equal(t, kafka.EventObservation, first.Headers["event_type"])
	_, err := time.Parse(time.RFC3339, first.Headers["recorded_at"])
	assert.NoError(t, err, "recorded_at should be valid RFC3339")

	var got domain.Observation
	require.NoError(t, json.Unmarshal(first.Value, &got))
	assert.Equal(t, 15, got.LeadMin)
	assert.Equal(t, 50.0, got.Rate)
	assert.True(t, obs.ValidTime.Equal(got.ValidTime))

	second := readEvent(ctx, t, consumer)
	assert.Equal(t, kafka.EventNotification, second.Headers["event_type"])
	assert.Equal(t, string(domain.KindThresholdAlert), second.Headers["notification_type"])
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Send(_ context.Context, _ []string, subject, _ string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

// feedServer serves catalogs around 06:10 UTC and an orange (50 mm/h) tile
// for every tile path.
func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, domain.TileSize, domain.TileSize))
	for x := 0; x < domain.TileSize; x++ {
		for y := 0; y < domain.TileSize; y++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 153, B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	tile := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/targetTimes_N1.json":
			_, _ = w.Write([]byte(`["20240426061000"]`))
		case r.URL.Path == "/targetTimes_N2.json":
			_, _ = w.Write([]byte(`[
				{"basetime":"20240426061000","validtime":"20240426064000"},
				{"basetime":"20240426061000","validtime":"20240426062500"}
			]`))
		case strings.HasSuffix(r.URL.Path, ".png"):
			_, _ = w.Write(tile)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestCycleEndToEnd runs one ingestion pass against a fake feed with real
// SQLite and Kafka, and verifies every stored observation and the alert are
// published.
func TestCycleEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 15, 12, 30, 0, domain.JST))
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nowcast.sqlite"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pub := kafka.NewPublisher([]string{broker}, testTopic, logger)
	t.Cleanup(func() { _ = pub.Close() })

	feed := feedServer(t)
	fetcher := jma.NewFetcher(5*time.Second, 100, metrics, logger)
	resolver := jma.NewResolver(fetcher, feed.URL, clock, metrics, logger)
	decoder := jma.NewDecoder(fetcher, feed.URL, jma.DefaultZoom, domain.DefaultSampleWindow, metrics, logger)

	notifier := &recordingNotifier{}
	engine := notify.NewEngine(notify.Settings{
		Enabled:       true,
		Cooldown:      30 * time.Minute,
		Thresholds:    domain.Thresholds{Heavy: 30, Torrential: 50},
		Interval:      5 * time.Minute,
		RetentionDays: 3,
	}, store, notifier, clock, metrics, logger)

	c := cycle.New(resolver, decoder, store, engine, pub, clock, cycle.Options{
		Leads:         []int{0, 15, 30},
		RetentionDays: 3,
		Workers:       2,
	}, metrics, logger)

	loc := config.DefaultLocation()
	loc.Recipients = []string{"ops@example.com"}

	summary, err := c.Run(ctx, []domain.MonitoredLocation{loc})
	require.NoError(t, err)
	assert.Equal(t, domain.HeartbeatOK, summary.Status)
	assert.Equal(t, 3, summary.Observations)
	assert.Equal(t, 1, summary.Alerts)
	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "Torrential rain")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	consumer := newConsumer(t, broker)
	byType := map[string]int{}
	for range 4 {
		ev := readEvent(ctx, t, consumer)
		assert.Equal(t, loc.Name, ev.Key)
		byType[ev.Headers["event_type"]]++
	}
	assert.Equal(t, 3, byType[kafka.EventObservation])
	assert.Equal(t, 1, byType[kafka.EventNotification])
}
