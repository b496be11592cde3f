package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/driftguard/internal/domain"
)

func criticalDiscrepancy() domain.Discrepancy {
	return domain.Discrepancy{
		Symbol:                     "BTC/USDT",
		Type:                       domain.PositionMissingInSystem,
		Severity:                   domain.SeverityCritical,
		RequiresManualIntervention: true,
		DetectedAt:                 time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookDispatcher_DeliversAlert(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, time.Second)
	d.SendCriticalAlert(context.Background(), criticalDiscrepancy())

	assert.Equal(t, "application/json", gotContentType)

	var payload alertPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Contains(t, payload.Title, "BTC/USDT")
	assert.Equal(t, "BTC/USDT", payload.Discrepancy.Symbol)
	assert.True(t, payload.Discrepancy.RequiresManualIntervention)
}

func TestWebhookDispatcher_DeliveryFailureIsSwallowed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Delivery failure is the dispatcher's problem: it logs and returns, it
	// never panics or propagates.
	d := NewWebhookDispatcher(srv.URL, time.Second)
	d.SendCriticalAlert(context.Background(), criticalDiscrepancy())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhookDispatcher_UnreachableEndpoint(t *testing.T) {
	d := NewWebhookDispatcher("http://127.0.0.1:1", 100*time.Millisecond)
	d.SendCriticalAlert(context.Background(), criticalDiscrepancy())
}

func TestLogDispatcher_DoesNotPanic(t *testing.T) {
	LogDispatcher{}.SendCriticalAlert(context.Background(), criticalDiscrepancy())
}
