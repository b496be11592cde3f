// Package statuscache publishes the latest reconciliation result and stats
// to Redis, where external monitors read them without touching the
// reconciler process.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/driftguard/internal/domain"
	"github.com/sawpanic/driftguard/internal/recon"
)

const (
	resultKey = "driftguard:result:latest"
	statsKey  = "driftguard:stats"
)

// Cache writes reconciliation status to Redis with a TTL, so a stale key is
// itself a monitoring signal that the loop stopped publishing.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New wraps a Redis client. The TTL applies to the latest-result key.
func New(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Publish stores the tick result and cumulative stats.
func (c *Cache) Publish(ctx context.Context, result domain.ReconciliationResult, stats recon.Stats) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode reconciliation result: %w", err)
	}

	if err := c.client.Set(ctx, resultKey, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reconciliation result: %w", err)
	}

	// Field order is fixed so the command shape stays deterministic.
	if err := c.client.HSet(ctx, statsKey,
		"total_reconciliations", stats.TotalReconciliations,
		"total_discrepancies", stats.TotalDiscrepancies,
		"total_auto_corrections", stats.TotalAutoCorrections,
		"total_critical_alerts", stats.TotalCriticalAlerts,
		"total_degraded_ticks", stats.TotalDegradedTicks,
		"is_running", strconv.FormatBool(stats.IsRunning),
		"interval_seconds", stats.IntervalSeconds,
	).Err(); err != nil {
		return fmt.Errorf("failed to store reconciliation stats: %w", err)
	}
	return nil
}

// LatestResult reads back the most recently published result. Returns false
// if nothing is published or the key expired.
func (c *Cache) LatestResult(ctx context.Context) (domain.ReconciliationResult, bool, error) {
	body, err := c.client.Get(ctx, resultKey).Bytes()
	if err == redis.Nil {
		return domain.ReconciliationResult{}, false, nil
	}
	if err != nil {
		return domain.ReconciliationResult{}, false, fmt.Errorf("failed to read reconciliation result: %w", err)
	}

	var result domain.ReconciliationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.ReconciliationResult{}, false, fmt.Errorf("failed to decode reconciliation result: %w", err)
	}
	return result, true, nil
}
