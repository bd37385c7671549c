package diagnosis

import "strings"

// TokenPrice is a price per million tokens for a model. Estimates are for
// budgeting, not billing reconciliation.
type TokenPrice struct {
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

// Keep this table small and conservative: the goal is budget enforcement
// and relative comparisons, not exact billing.
var modelPrices = []struct {
	Prefix string
	Price  TokenPrice
}{
	{Prefix: "claude-opus", Price: TokenPrice{InputUSDPerMTok: 15.00, OutputUSDPerMTok: 75.00}},
	{Prefix: "claude-sonnet", Price: TokenPrice{InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00}},
	{Prefix: "claude-haiku", Price: TokenPrice{InputUSDPerMTok: 0.25, OutputUSDPerMTok: 1.25}},
}

var defaultPrice = TokenPrice{InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00}

func lookupPrice(model string) TokenPrice {
	for _, mp := range modelPrices {
		if strings.HasPrefix(model, mp.Prefix) {
			return mp.Price
		}
	}
	return defaultPrice
}

// EstimateUSD converts token counts into an estimated USD cost for model.
func EstimateUSD(model string, inputTokens, outputTokens int64) float64 {
	price := lookupPrice(model)
	return (float64(inputTokens)/1_000_000.0)*price.InputUSDPerMTok +
		(float64(outputTokens)/1_000_000.0)*price.OutputUSDPerMTok
}
