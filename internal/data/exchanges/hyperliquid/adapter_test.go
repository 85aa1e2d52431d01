package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
)

const hourMs = int64(3600_000)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := NewAdapter(server.URL, nil, 5*time.Second)
	adapter.sleep = noSleep
	return adapter
}

func decodeInfo(t *testing.T, r *http.Request) infoRequest {
	t.Helper()
	require.Equal(t, http.MethodPost, r.Method)
	var req infoRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestListActivePerpetuals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfo(t, r)
		require.Equal(t, "meta", req.Type)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"universe": []map[string]interface{}{
				{"name": "BTC"},
				{"name": "ETH"},
				{"name": "MATIC", "isDelisted": true},
			},
		}))
	})
	adapter := newTestAdapter(t, mux)

	pairs, err := adapter.ListActivePerpetuals(context.Background(), exchanges.ScopeHistory)
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Equal(t, "BTC", pairs[0].Name())
	assert.Equal(t, "ETH", pairs[1].Name())
	for _, pair := range pairs {
		require.NotNil(t, pair.Funding.IntervalHours)
		assert.Equal(t, 1, *pair.Funding.IntervalHours)
	}
}

func TestEmptyUniverseIsAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"universe": []interface{}{}}))
	})
	adapter := newTestAdapter(t, mux)

	_, err := adapter.ListActivePerpetuals(context.Background(), exchanges.ScopeHistory)
	var apiErr *models.VenueAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, models.IsRetryable(err))
}

func TestListHistoryPagesForward(t *testing.T) {
	base := int64(1600000000000)
	var cursors []int64

	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfo(t, r)
		require.Equal(t, "fundingHistory", req.Type)
		require.Equal(t, "BTC", req.Coin)
		require.NotNil(t, req.StartTime)
		cursors = append(cursors, *req.StartTime)

		var entries []map[string]interface{}
		if len(cursors) == 1 {
			for i := 0; i < pageLimit; i++ {
				entries = append(entries, map[string]interface{}{
					"coin": "BTC", "fundingRate": "0.0000125", "time": base + int64(i)*hourMs,
				})
			}
		} else {
			entries = append(entries, map[string]interface{}{
				"coin": "BTC", "fundingRate": "0.0000125", "time": base + int64(pageLimit)*hourMs,
			})
		}
		require.NoError(t, json.NewEncoder(w).Encode(entries))
	})
	adapter := newTestAdapter(t, mux)

	var slept []time.Duration
	adapter.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	start := base
	observations, err := adapter.ListHistory(context.Background(), "BTC", &start)
	require.NoError(t, err)

	require.Len(t, observations, pageLimit+1)
	assert.Equal(t, base, observations[0].FundingTime)

	require.Len(t, cursors, 2)
	assert.Equal(t, base, cursors[0])
	assert.Equal(t, base+int64(pageLimit-1)*hourMs+1, cursors[1])
	assert.Equal(t, []time.Duration{interPageDelay}, slept)
}

func TestListHistoryDefaultsToBackfillOrigin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfo(t, r)
		require.NotNil(t, req.StartTime)
		assert.Equal(t, defaultStart, *req.StartTime)
		require.NoError(t, json.NewEncoder(w).Encode([]interface{}{}))
	})
	adapter := newTestAdapter(t, mux)

	observations, err := adapter.ListHistory(context.Background(), "BTC", nil)
	require.NoError(t, err)
	assert.Empty(t, observations)

	origin := time.UnixMilli(defaultStart).UTC()
	assert.Equal(t, 2000, origin.Year())
}

func TestLatestUsesTrailingDay(t *testing.T) {
	now := time.Now().UnixMilli()
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		req := decodeInfo(t, r)
		require.NotNil(t, req.StartTime)
		assert.InDelta(t, float64(now-24*hourMs), float64(*req.StartTime), float64(time.Minute.Milliseconds()))

		require.NoError(t, json.NewEncoder(w).Encode([]map[string]interface{}{
			{"coin": "BTC", "fundingRate": "0.0000100", "time": now - 2*hourMs},
			{"coin": "BTC", "fundingRate": "0.0000200", "time": now - hourMs},
		}))
	})
	adapter := newTestAdapter(t, mux)

	obs, err := adapter.Latest(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, now-hourMs, obs.FundingTime)
	assert.Equal(t, "0.00002", obs.Rate.String())
}

func TestLatestEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode([]interface{}{}))
	})
	adapter := newTestAdapter(t, mux)

	_, err := adapter.Latest(context.Background(), "GONE")
	assert.ErrorIs(t, err, models.ErrEmptyResult)
}

func TestServerErrorIsRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	adapter := newTestAdapter(t, mux)

	_, err := adapter.Latest(context.Background(), "BTC")
	var apiErr *models.VenueAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, models.IsRetryable(err))
}
