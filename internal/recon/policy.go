package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/driftguard/internal/domain"
)

// LedgerWriter is the narrow correction interface exposed by the
// position-management collaborator. Every operation sets a value to the
// exchange's reported state rather than incrementing, so reapplying the same
// correction is a no-op. Writes are atomic per symbol on the collaborator's
// side.
type LedgerWriter interface {
	ClosePosition(ctx context.Context, symbol string) error
	UpdateQuantity(ctx context.Context, symbol string, quantity decimal.Decimal) error
	UpdateEntryPrice(ctx context.Context, symbol string, price decimal.Decimal) error
}

// PolicyConfig tunes the correction-write retry behavior.
type PolicyConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failed write within one tick.
	MaxRetries int
	// Backoff is the base delay before the first retry; it doubles per
	// attempt.
	Backoff time.Duration
	// EscalateAfterFailures escalates a symbol to CRITICAL once this many
	// consecutive ticks fail to apply its correction.
	EscalateAfterFailures int
}

// Policy decides, per discrepancy, whether to auto-correct the internal
// ledger or escalate for manual intervention. Never both.
type Policy struct {
	ledger LedgerWriter
	cfg    PolicyConfig

	mu       sync.Mutex
	failures map[string]int // consecutive failed corrections per symbol
	sleep    func(context.Context, time.Duration)
}

// NewPolicy builds a correction policy over the given ledger writer.
func NewPolicy(ledger LedgerWriter, cfg PolicyConfig) *Policy {
	return &Policy{
		ledger:   ledger,
		cfg:      cfg,
		failures: make(map[string]int),
		sleep:    sleepCtx,
	}
}

// Handle applies the decision table to one discrepancy and returns an updated
// copy with either AutoCorrected+CorrectionAction or
// RequiresManualIntervention set. The input is never mutated.
func (p *Policy) Handle(ctx context.Context, d domain.Discrepancy) domain.Discrepancy {
	switch d.Type {
	case domain.PositionMissingInSystem, domain.SideMismatch:
		// Always CRITICAL, never auto-corrected.
		return escalate(d)

	case domain.PositionMissingOnExchange:
		// The exchange is authoritative over existence: treat as closed.
		return p.correct(ctx, d,
			fmt.Sprintf("closed internal position %s (absent on exchange)", d.Symbol),
			func(ctx context.Context) error {
				return p.ledger.ClosePosition(ctx, d.Symbol)
			})

	case domain.QuantityMismatch:
		switch d.Severity {
		case domain.SeverityCritical:
			return escalate(d)
		case domain.SeverityWarning:
			qty := d.Exchange.Quantity
			return p.correct(ctx, d,
				fmt.Sprintf("set internal quantity for %s to %s", d.Symbol, qty),
				func(ctx context.Context) error {
					return p.ledger.UpdateQuantity(ctx, d.Symbol, qty)
				})
		default:
			// INFO drift is logged by the loop and left alone.
			return d
		}

	case domain.PriceMismatch:
		price := d.Exchange.EntryPrice
		return p.correct(ctx, d,
			fmt.Sprintf("set internal entry price for %s to %s", d.Symbol, price),
			func(ctx context.Context) error {
				return p.ledger.UpdateEntryPrice(ctx, d.Symbol, price)
			})

	case domain.DiscrepancyNone:
		return d
	}
	return d
}

func escalate(d domain.Discrepancy) domain.Discrepancy {
	d.Severity = domain.SeverityCritical
	d.RequiresManualIntervention = true
	d.AutoCorrected = false
	return d
}

// correct applies one ledger write with bounded retry and exponential
// backoff. A write that keeps failing across ticks is eventually escalated
// to CRITICAL instead of silently re-surfacing forever.
func (p *Policy) correct(ctx context.Context, d domain.Discrepancy, action string, write func(context.Context) error) domain.Discrepancy {
	var err error
	backoff := p.cfg.Backoff
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.sleep(ctx, backoff)
			backoff *= 2
		}
		if err = write(ctx); err == nil {
			p.clearFailures(d.Symbol)
			d.AutoCorrected = true
			d.CorrectionAction = action
			d.RequiresManualIntervention = false
			return d
		}
		if ctx.Err() != nil {
			break
		}
	}

	count := p.recordFailure(d.Symbol)
	log.Error().Err(err).
		Str("symbol", d.Symbol).
		Str("type", d.Type.String()).
		Int("consecutive_failures", count).
		Msg("correction write failed")

	if count >= p.cfg.EscalateAfterFailures {
		return escalate(d)
	}
	// Not yet escalated: the discrepancy persists into the next tick.
	d.AutoCorrected = false
	return d
}

func (p *Policy) recordFailure(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[symbol]++
	return p.failures[symbol]
}

func (p *Policy) clearFailures(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, symbol)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
