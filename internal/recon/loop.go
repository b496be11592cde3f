package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/driftguard/internal/domain"
)

// ExchangeSource fetches the exchange's currently open positions. Zero
// quantity entries must already be filtered out.
type ExchangeSource interface {
	Positions(ctx context.Context) (domain.Snapshot, error)
}

// LedgerReader fetches the internally tracked open positions.
type LedgerReader interface {
	OpenPositions(ctx context.Context) (domain.Snapshot, error)
}

// AlertDispatcher receives escalated discrepancies. Delivery is
// fire-and-forget: the dispatcher logs its own failures.
type AlertDispatcher interface {
	SendCriticalAlert(ctx context.Context, d domain.Discrepancy)
}

// StatusSink receives each tick's result and the cumulative stats, for
// external monitors. Optional.
type StatusSink interface {
	Publish(ctx context.Context, result domain.ReconciliationResult, stats Stats) error
}

// TickObserver receives per-tick telemetry. Optional.
type TickObserver interface {
	ObserveTick(result domain.ReconciliationResult)
	SetRunning(running bool)
}

// Stats is the cumulative counter view exposed to monitoring. Counters
// persist for the process lifetime and reset only on restart.
type Stats struct {
	TotalReconciliations int64 `json:"total_reconciliations"`
	TotalDiscrepancies   int64 `json:"total_discrepancies"`
	TotalAutoCorrections int64 `json:"total_auto_corrections"`
	TotalCriticalAlerts  int64 `json:"total_critical_alerts"`
	TotalDegradedTicks   int64 `json:"total_degraded_ticks"`
	IsRunning            bool  `json:"is_running"`
	IntervalSeconds      int   `json:"interval_seconds"`
}

// LoopConfig tunes the reconciliation loop.
type LoopConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
}

// Reconciler drives the periodic comparison between the exchange and the
// internal ledger. It holds no position state of its own; snapshots are
// fetched fresh each tick and discarded.
type Reconciler struct {
	cfg      LoopConfig
	detector *Detector
	policy   *Policy
	exchange ExchangeSource
	ledger   LedgerReader
	alerts   AlertDispatcher
	sink     StatusSink
	observer TickObserver

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	stats      Stats
	lastResult *domain.ReconciliationResult
}

// NewReconciler wires the loop. alerts is required; sink and observer may be
// nil.
func NewReconciler(cfg LoopConfig, detector *Detector, policy *Policy, exchange ExchangeSource, ledger LedgerReader, alerts AlertDispatcher, sink StatusSink, observer TickObserver) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		detector: detector,
		policy:   policy,
		exchange: exchange,
		ledger:   ledger,
		alerts:   alerts,
		sink:     sink,
		observer: observer,
		stats:    Stats{IntervalSeconds: int(cfg.Interval / time.Second)},
	}
}

// Start launches the background loop. Calling Start on a running reconciler
// is a warned no-op. The first tick runs immediately; subsequent ticks follow
// the configured interval on a wall-clock ticker.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Warn().Msg("reconciliation loop already running, ignoring start")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.stats.IsRunning = true
	done := r.done
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SetRunning(true)
	}
	log.Info().Dur("interval", r.cfg.Interval).Msg("reconciliation loop started")

	go func() {
		defer close(done)
		r.run(loopCtx)
		r.markStopped(done)
	}()
}

// Stop cancels the inter-tick wait and blocks until the loop goroutine has
// exited. An in-flight tick completes its current discrepancy before
// observing the cancellation; a correction write is never cancelled
// mid-write. Stop on a stopped reconciler is a no-op.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// markStopped records the loop goroutine's exit, whether Stop cancelled it or
// the Start context was cancelled externally. The channel check keeps a late
// exit from clobbering a restarted loop.
func (r *Reconciler) markStopped(done chan struct{}) {
	r.mu.Lock()
	if r.done != done {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel = nil
	r.done = nil
	r.stats.IsRunning = false
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SetRunning(false)
	}
	log.Info().Msg("reconciliation loop stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// RunOnce executes a single reconciliation pass synchronously and returns
// its result. Used by the loop and by the one-shot CLI command.
func (r *Reconciler) RunOnce(ctx context.Context) domain.ReconciliationResult {
	return r.tick(ctx)
}

// tick is one full reconciliation pass. Nothing inside it may propagate a
// failure out: a broken tick yields a degraded result, never a dead loop.
func (r *Reconciler) tick(ctx context.Context) (result domain.ReconciliationResult) {
	start := time.Now()
	result = domain.ReconciliationResult{
		ID:        uuid.NewString(),
		Timestamp: start,
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("reconciliation tick panicked")
			result.Degraded = true
			result.DegradedReason = fmt.Sprintf("panic: %v", rec)
		}
		result.DurationMs = time.Since(start).Milliseconds()
		r.finishTick(ctx, result)
	}()

	exchange, internal, fetchErr := r.fetchSnapshots(ctx)
	if fetchErr != nil {
		// A failed fetch must not masquerade as universal agreement, so no
		// comparison runs against a false empty snapshot.
		log.Error().Err(fetchErr).Msg("snapshot fetch failed, skipping comparison")
		result.Degraded = true
		result.DegradedReason = fetchErr.Error()
		return result
	}

	result.SymbolsChecked = len(domain.UnionSymbols(exchange, internal))

	for _, d := range r.detector.Compare(exchange, internal) {
		handled := r.policy.Handle(ctx, d)
		r.logDiscrepancy(handled)
		if handled.RequiresManualIntervention {
			result.CriticalAlerts++
			r.alerts.SendCriticalAlert(ctx, handled)
		}
		if handled.AutoCorrected {
			result.AutoCorrections++
		}
		result.Discrepancies = append(result.Discrepancies, handled)
	}
	result.DiscrepanciesFound = len(result.Discrepancies)
	return result
}

// fetchSnapshots issues both snapshot reads concurrently, each under its own
// timeout, and joins them. Either side failing degrades the whole tick.
func (r *Reconciler) fetchSnapshots(ctx context.Context) (exchange, internal domain.Snapshot, err error) {
	var (
		wg          sync.WaitGroup
		exchErr     error
		internalErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		defer cancel()
		exchange, exchErr = r.exchange.Positions(fetchCtx)
	}()
	go func() {
		defer wg.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		defer cancel()
		internal, internalErr = r.ledger.OpenPositions(fetchCtx)
	}()
	wg.Wait()

	if exchErr != nil {
		return nil, nil, fmt.Errorf("exchange snapshot: %w", exchErr)
	}
	if internalErr != nil {
		return nil, nil, fmt.Errorf("internal snapshot: %w", internalErr)
	}
	return exchange, internal, nil
}

func (r *Reconciler) finishTick(ctx context.Context, result domain.ReconciliationResult) {
	r.mu.Lock()
	r.stats.TotalReconciliations++
	r.stats.TotalDiscrepancies += int64(result.DiscrepanciesFound)
	r.stats.TotalAutoCorrections += int64(result.AutoCorrections)
	r.stats.TotalCriticalAlerts += int64(result.CriticalAlerts)
	if result.Degraded {
		r.stats.TotalDegradedTicks++
	}
	stats := r.stats
	res := result
	r.lastResult = &res
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveTick(result)
	}
	if r.sink != nil {
		if err := r.sink.Publish(ctx, result, stats); err != nil {
			log.Warn().Err(err).Msg("failed to publish reconciliation status")
		}
	}

	log.Info().
		Str("run_id", result.ID).
		Int("symbols_checked", result.SymbolsChecked).
		Int("discrepancies", result.DiscrepanciesFound).
		Int("auto_corrections", result.AutoCorrections).
		Int("critical_alerts", result.CriticalAlerts).
		Bool("degraded", result.Degraded).
		Int64("duration_ms", result.DurationMs).
		Msg("reconciliation tick complete")
}

func (r *Reconciler) logDiscrepancy(d domain.Discrepancy) {
	ev := log.Warn()
	if d.Severity == domain.SeverityCritical {
		ev = log.Error()
	} else if d.Severity == domain.SeverityInfo {
		ev = log.Info()
	}
	ev.Str("symbol", d.Symbol).
		Str("type", d.Type.String()).
		Str("severity", d.Severity.String()).
		Bool("auto_corrected", d.AutoCorrected).
		Bool("manual_intervention", d.RequiresManualIntervention).
		Msg("position discrepancy")
}

// Stats returns a copy of the cumulative counters. Safe to call from any
// goroutine while the loop runs.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastResult returns the most recent tick's result, or false before the
// first tick completes.
func (r *Reconciler) LastResult() (domain.ReconciliationResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastResult == nil {
		return domain.ReconciliationResult{}, false
	}
	return *r.lastResult, true
}
