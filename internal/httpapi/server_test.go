package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/driftguard/internal/domain"
	"github.com/sawpanic/driftguard/internal/recon"
)

type fakeSource struct {
	stats  recon.Stats
	result *domain.ReconciliationResult
}

func (f *fakeSource) Stats() recon.Stats { return f.stats }

func (f *fakeSource) LastResult() (domain.ReconciliationResult, bool) {
	if f.result == nil {
		return domain.ReconciliationResult{}, false
	}
	return *f.result, true
}

func doRequest(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	server := NewServer(&fakeSource{stats: recon.Stats{IsRunning: true}}, nil)

	rec := doRequest(t, server, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["is_running"])
}

func TestServer_HealthStopped(t *testing.T) {
	server := NewServer(&fakeSource{}, nil)

	rec := doRequest(t, server, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stopped", body["status"])
}

func TestServer_Stats(t *testing.T) {
	server := NewServer(&fakeSource{stats: recon.Stats{
		TotalReconciliations: 12,
		TotalDiscrepancies:   3,
		TotalAutoCorrections: 2,
		TotalCriticalAlerts:  1,
		IsRunning:            true,
		IntervalSeconds:      300,
	}}, nil)

	rec := doRequest(t, server, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats recon.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 12, stats.TotalReconciliations)
	assert.EqualValues(t, 1, stats.TotalCriticalAlerts)
	assert.Equal(t, 300, stats.IntervalSeconds)
}

func TestServer_Result(t *testing.T) {
	result := domain.ReconciliationResult{
		ID:             "run-1",
		Timestamp:      time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		SymbolsChecked: 4,
	}
	server := NewServer(&fakeSource{result: &result}, nil)

	rec := doRequest(t, server, "/result")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.ReconciliationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 4, got.SymbolsChecked)
}

func TestServer_ResultBeforeFirstTick(t *testing.T) {
	server := NewServer(&fakeSource{}, nil)
	rec := doRequest(t, server, "/result")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeSource{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
