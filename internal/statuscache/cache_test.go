package statuscache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/driftguard/internal/domain"
	"github.com/sawpanic/driftguard/internal/recon"
)

func sampleResult() domain.ReconciliationResult {
	return domain.ReconciliationResult{
		ID:                 "run-1",
		Timestamp:          time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		SymbolsChecked:     3,
		DiscrepanciesFound: 1,
		AutoCorrections:    1,
		CriticalAlerts:     1,
		Discrepancies: []domain.Discrepancy{
			{
				Symbol:                     "BTC/USDT",
				Type:                       domain.PositionMissingInSystem,
				Severity:                   domain.SeverityCritical,
				RequiresManualIntervention: true,
			},
		},
		DurationMs: 42,
	}
}

func sampleStats() recon.Stats {
	return recon.Stats{
		TotalReconciliations: 10,
		TotalDiscrepancies:   2,
		TotalAutoCorrections: 1,
		TotalCriticalAlerts:  1,
		IsRunning:            true,
		IntervalSeconds:      300,
	}
}

func TestCache_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, 15*time.Minute)

	result := sampleResult()
	stats := sampleStats()
	body, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectSet(resultKey, body, 15*time.Minute).SetVal("OK")
	mock.ExpectHSet(statsKey,
		"total_reconciliations", stats.TotalReconciliations,
		"total_discrepancies", stats.TotalDiscrepancies,
		"total_auto_corrections", stats.TotalAutoCorrections,
		"total_critical_alerts", stats.TotalCriticalAlerts,
		"total_degraded_ticks", stats.TotalDegradedTicks,
		"is_running", "true",
		"interval_seconds", stats.IntervalSeconds,
	).SetVal(7)

	require.NoError(t, cache.Publish(context.Background(), result, stats))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_LatestResult(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, 15*time.Minute)

	result := sampleResult()
	body, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectGet(resultKey).SetVal(string(body))

	got, ok, err := cache.LatestResult(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.ID, got.ID)
	assert.Equal(t, result.SymbolsChecked, got.SymbolsChecked)
	require.Len(t, got.Discrepancies, 1)
	assert.Equal(t, domain.PositionMissingInSystem, got.Discrepancies[0].Type)
	assert.Equal(t, domain.SeverityCritical, got.Discrepancies[0].Severity)
}

func TestCache_LatestResultMissing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, 15*time.Minute)

	mock.ExpectGet(resultKey).RedisNil()

	_, ok, err := cache.LatestResult(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
