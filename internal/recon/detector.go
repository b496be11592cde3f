// Package recon implements the position reconciliation engine: snapshot
// comparison, discrepancy classification, the correction policy, and the
// periodic reconciliation loop.
package recon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/driftguard/internal/domain"
)

// Severity thresholds for quantity drift, as percentages. Boundary values use
// strict greater-than throughout: a drift of exactly 10% classifies WARNING,
// exactly 5% classifies INFO, and a drift exactly equal to the configured
// tolerance is no discrepancy at all.
var (
	quantityCriticalPct = decimal.NewFromInt(10)
	quantityWarningPct  = decimal.NewFromInt(5)
	hundred             = decimal.NewFromInt(100)
)

// Detector compares an exchange snapshot against the internal ledger snapshot
// and classifies every divergence.
type Detector struct {
	quantityTolerancePct decimal.Decimal
	priceTolerancePct    decimal.Decimal
	now                  func() time.Time
}

// NewDetector builds a detector from the configured tolerances, given as
// percentages (1.0 means 1%).
func NewDetector(quantityTolerancePct, priceTolerancePct float64) *Detector {
	return &Detector{
		quantityTolerancePct: decimal.NewFromFloat(quantityTolerancePct),
		priceTolerancePct:    decimal.NewFromFloat(priceTolerancePct),
		now:                  time.Now,
	}
}

// Compare walks the union of both snapshots' symbols in sorted order and
// returns at most one discrepancy per symbol. The exchange is treated as
// authoritative over whether a position exists; the internal ledger is the
// side that gets corrected.
func (d *Detector) Compare(exchange, internal domain.Snapshot) []domain.Discrepancy {
	var out []domain.Discrepancy

	for _, symbol := range domain.UnionSymbols(exchange, internal) {
		exch, onExchange := exchange[symbol]
		intl, inSystem := internal[symbol]

		switch {
		case onExchange && !inSystem:
			// A live position the system does not track is unmanaged risk;
			// there is nothing to correct it toward.
			out = append(out, d.missingInSystem(symbol, exch))
		case !onExchange && inSystem:
			out = append(out, d.missingOnExchange(symbol, intl))
		default:
			if disc, found := d.compareBoth(symbol, exch, intl); found {
				out = append(out, disc)
			}
		}
	}

	return out
}

func (d *Detector) missingInSystem(symbol string, exch domain.Position) domain.Discrepancy {
	e := exch
	return domain.Discrepancy{
		Symbol:     symbol,
		Type:       domain.PositionMissingInSystem,
		Severity:   domain.SeverityCritical,
		Exchange:   &e,
		DetectedAt: d.now(),
	}
}

func (d *Detector) missingOnExchange(symbol string, intl domain.Position) domain.Discrepancy {
	i := intl
	return domain.Discrepancy{
		Symbol:     symbol,
		Type:       domain.PositionMissingOnExchange,
		Severity:   domain.SeverityWarning,
		Internal:   &i,
		DetectedAt: d.now(),
	}
}

// compareBoth handles symbols present in both snapshots. Checks run in
// priority order and the first match wins, so a symbol yields at most one
// discrepancy per tick. A quantity mismatch shadows any price mismatch on
// the same symbol; price is re-evaluated next tick once quantity is fixed,
// so two corrections never compound in one pass.
func (d *Detector) compareBoth(symbol string, exch, intl domain.Position) (domain.Discrepancy, bool) {
	e, i := exch, intl
	base := domain.Discrepancy{
		Symbol:     symbol,
		Exchange:   &e,
		Internal:   &i,
		DetectedAt: d.now(),
	}

	if exch.Side != intl.Side {
		// Tracking the opposite direction from reality is never silently
		// corrected, no matter how closely the other fields agree.
		base.Type = domain.SideMismatch
		base.Severity = domain.SeverityCritical
		return base, true
	}

	qtyDiffPct := percentDiff(exch.Quantity, intl.Quantity)
	if qtyDiffPct.GreaterThan(d.quantityTolerancePct) {
		diff := exch.Quantity.Sub(intl.Quantity).Abs()
		base.Type = domain.QuantityMismatch
		base.QuantityDiff = &diff
		base.Severity = quantitySeverity(qtyDiffPct)
		return base, true
	}

	priceDiffPct := percentDiff(exch.EntryPrice, intl.EntryPrice)
	if priceDiffPct.GreaterThan(d.priceTolerancePct) {
		diff := exch.EntryPrice.Sub(intl.EntryPrice).Abs()
		base.Type = domain.PriceMismatch
		base.PriceDiff = &diff
		base.Severity = domain.SeverityWarning
		return base, true
	}

	return domain.Discrepancy{}, false
}

// percentDiff returns |a-b| / a * 100, with a zero reference treated as
// zero difference.
func percentDiff(reference, other decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return reference.Sub(other).Abs().Div(reference).Mul(hundred)
}

func quantitySeverity(diffPct decimal.Decimal) domain.Severity {
	switch {
	case diffPct.GreaterThan(quantityCriticalPct):
		return domain.SeverityCritical
	case diffPct.GreaterThan(quantityWarningPct):
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}
