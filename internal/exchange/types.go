package exchange

// positionRisk is one entry of the futures position risk endpoint response.
// All numeric fields arrive as strings and are parsed with exact decimals;
// going through float64 would manufacture reconciliation noise.
type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	IsolatedMargin   string `json:"isolatedMargin"`
	UpdateTime       int64  `json:"updateTime"`
}

// apiError is the exchange's error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
