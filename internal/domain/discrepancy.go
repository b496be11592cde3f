package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyType classifies how the two sources diverge for one symbol.
// It is a closed enum: the correction policy switches over it exhaustively,
// so adding a type is a compile-time-visible change.
type DiscrepancyType int

const (
	DiscrepancyNone DiscrepancyType = iota
	PositionMissingInSystem
	PositionMissingOnExchange
	QuantityMismatch
	PriceMismatch
	SideMismatch
)

func (t DiscrepancyType) String() string {
	switch t {
	case DiscrepancyNone:
		return "NONE"
	case PositionMissingInSystem:
		return "POSITION_MISSING_IN_SYSTEM"
	case PositionMissingOnExchange:
		return "POSITION_MISSING_ON_EXCHANGE"
	case QuantityMismatch:
		return "QUANTITY_MISMATCH"
	case PriceMismatch:
		return "PRICE_MISMATCH"
	case SideMismatch:
		return "SIDE_MISMATCH"
	}
	return fmt.Sprintf("DiscrepancyType(%d)", int(t))
}

// MarshalJSON renders the type as its wire name.
func (t DiscrepancyType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON maps a wire name back to the enum, rejecting unknown names.
func (t *DiscrepancyType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "NONE":
		*t = DiscrepancyNone
	case "POSITION_MISSING_IN_SYSTEM":
		*t = PositionMissingInSystem
	case "POSITION_MISSING_ON_EXCHANGE":
		*t = PositionMissingOnExchange
	case "QUANTITY_MISMATCH":
		*t = QuantityMismatch
	case "PRICE_MISMATCH":
		*t = PriceMismatch
	case "SIDE_MISMATCH":
		*t = SideMismatch
	default:
		return fmt.Errorf("unknown discrepancy type %q", name)
	}
	return nil
}

// Severity ranks how dangerous a discrepancy is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalJSON renders the severity as its wire name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON maps a wire name back to the enum, rejecting unknown names.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "INFO":
		*s = SeverityInfo
	case "WARNING":
		*s = SeverityWarning
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", name)
	}
	return nil
}

// Discrepancy is the outcome of comparing one symbol across the exchange and
// internal snapshots. Exactly one of Exchange/Internal is nil for the two
// "missing" types; both are set otherwise. Once the correction policy has run,
// AutoCorrected and RequiresManualIntervention are mutually exclusive.
type Discrepancy struct {
	Symbol   string          `json:"symbol"`
	Type     DiscrepancyType `json:"type"`
	Severity Severity        `json:"severity"`

	Exchange *Position `json:"exchange_position,omitempty"`
	Internal *Position `json:"internal_position,omitempty"`

	QuantityDiff *decimal.Decimal `json:"quantity_difference,omitempty"`
	PriceDiff    *decimal.Decimal `json:"price_difference,omitempty"`

	AutoCorrected              bool      `json:"auto_corrected"`
	CorrectionAction           string    `json:"correction_action,omitempty"`
	RequiresManualIntervention bool      `json:"requires_manual_intervention"`
	DetectedAt                 time.Time `json:"detected_at"`
}

// ReconciliationResult aggregates one tick of the reconciliation loop.
// Degraded results mean a snapshot fetch failed and no comparison ran; they
// must never be read as "all positions agree".
type ReconciliationResult struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	SymbolsChecked     int           `json:"symbols_checked"`
	DiscrepanciesFound int           `json:"discrepancies_found"`
	AutoCorrections    int           `json:"auto_corrections"`
	CriticalAlerts     int           `json:"critical_alerts"`
	Discrepancies      []Discrepancy `json:"discrepancies"`
	Degraded           bool          `json:"degraded"`
	DegradedReason     string        `json:"degraded_reason,omitempty"`
	DurationMs         int64         `json:"duration_ms"`
}
