package jma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Get_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := testFetcher().Get(context.Background(), RequestTile, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestFetcher_Get_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	resp, err := testFetcher().Get(context.Background(), RequestTile, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcher_Get_ExhaustedRetriesReturnStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := testFetcher().Get(context.Background(), RequestTile, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestFetcher_Get_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := testFetcher().Get(context.Background(), RequestTile, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_Get_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := testFetcher()
	f.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := f.Get(context.Background(), RequestTile, srv.URL)
	require.Error(t, err)
}

func TestFetcher_Get_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher().Get(ctx, RequestTile, srv.URL)
	require.Error(t, err)
}

func TestFetcher_Get_LabelsRequestKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	f := testFetcher()
	_, err := f.Get(context.Background(), RequestCatalog, srv.URL+"/targetTimes_N1.json")
	require.NoError(t, err)

	// DeleteLabelValues reports whether the series existed.
	assert.False(t, f.metrics.FeedRequests.DeleteLabelValues(RequestTile, "200"))
	assert.True(t, f.metrics.FeedRequests.DeleteLabelValues(RequestCatalog, "200"))
}
