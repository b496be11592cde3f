package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_AddDropsZeroQuantity(t *testing.T) {
	s := make(Snapshot)
	s.Add(Position{Symbol: "BTC/USDT", Side: SideLong, Quantity: decimal.Zero})
	assert.Empty(t, s)

	s.Add(Position{Symbol: "BTC/USDT", Side: SideLong, Quantity: decimal.NewFromFloat(0.1)})
	assert.Len(t, s, 1)
}

func TestUnionSymbols_SortedUnion(t *testing.T) {
	a := Snapshot{
		"ETH/USDT": {Symbol: "ETH/USDT"},
		"BTC/USDT": {Symbol: "BTC/USDT"},
	}
	b := Snapshot{
		"BTC/USDT": {Symbol: "BTC/USDT"},
		"SOL/USDT": {Symbol: "SOL/USDT"},
	}

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}, UnionSymbols(a, b))
}

func TestPosition_Validate(t *testing.T) {
	valid := Position{
		Symbol:     "BTC/USDT",
		Side:       SideLong,
		Quantity:   decimal.NewFromFloat(0.1),
		EntryPrice: decimal.NewFromInt(45000),
	}
	assert.NoError(t, valid.Validate())

	noSymbol := valid
	noSymbol.Symbol = ""
	assert.Error(t, noSymbol.Validate())

	badSide := valid
	badSide.Side = "SIDEWAYS"
	assert.Error(t, badSide.Validate())

	negativeQty := valid
	negativeQty.Quantity = decimal.NewFromFloat(-0.1)
	assert.Error(t, negativeQty.Validate())

	zeroEntry := valid
	zeroEntry.EntryPrice = decimal.Zero
	assert.Error(t, zeroEntry.Validate())
}

func TestDiscrepancyType_WireNames(t *testing.T) {
	tests := []struct {
		typ  DiscrepancyType
		want string
	}{
		{DiscrepancyNone, "NONE"},
		{PositionMissingInSystem, "POSITION_MISSING_IN_SYSTEM"},
		{PositionMissingOnExchange, "POSITION_MISSING_ON_EXCHANGE"},
		{QuantityMismatch, "QUANTITY_MISMATCH"},
		{PriceMismatch, "PRICE_MISMATCH"},
		{SideMismatch, "SIDE_MISMATCH"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}

func TestDiscrepancy_JSONRoundTrip(t *testing.T) {
	d := Discrepancy{
		Symbol:                     "BTC/USDT",
		Type:                       PositionMissingInSystem,
		Severity:                   SeverityCritical,
		RequiresManualIntervention: true,
	}
	body, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded Discrepancy
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, PositionMissingInSystem, decoded.Type)
	assert.Equal(t, SeverityCritical, decoded.Severity)
	assert.True(t, decoded.RequiresManualIntervention)
}

func TestEnums_UnmarshalRejectsUnknownNames(t *testing.T) {
	var typ DiscrepancyType
	assert.Error(t, json.Unmarshal([]byte(`"HALF_FILLED"`), &typ))
	assert.Error(t, json.Unmarshal([]byte(`3`), &typ))

	var sev Severity
	assert.Error(t, json.Unmarshal([]byte(`"FATAL"`), &sev))
	assert.Error(t, json.Unmarshal([]byte(`0`), &sev))
}

func TestDiscrepancy_JSONUsesWireNames(t *testing.T) {
	d := Discrepancy{
		Symbol:   "BTC/USDT",
		Type:     QuantityMismatch,
		Severity: SeverityWarning,
	}
	body, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "QUANTITY_MISMATCH", decoded["type"])
	assert.Equal(t, "WARNING", decoded["severity"])
}
