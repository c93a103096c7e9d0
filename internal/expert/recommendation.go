package expert

import "strings"

// Recommendation is a trading signal emitted by an expert or an analyzer.
type Recommendation string

const (
	Buy        Recommendation = "BUY"
	Sell       Recommendation = "SELL"
	Hold       Recommendation = "HOLD"
	StrongBuy  Recommendation = "STRONG_BUY"
	StrongSell Recommendation = "STRONG_SELL"
)

// Categories is the fixed tally order. Ties resolve to the earliest entry.
var Categories = []Recommendation{Buy, Sell, Hold}

// Base folds the STRONG_ variants onto their plain category.
func (r Recommendation) Base() Recommendation {
	switch r {
	case StrongBuy:
		return Buy
	case StrongSell:
		return Sell
	default:
		return r
	}
}

// IsBuy reports whether the recommendation asks for a long entry.
func (r Recommendation) IsBuy() bool {
	return r == Buy || r == StrongBuy
}

// ParseRecommendation normalizes free-form labels like "strong buy".
func ParseRecommendation(raw string) (Recommendation, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch Recommendation(normalized) {
	case Buy, Sell, Hold, StrongBuy, StrongSell:
		return Recommendation(normalized), true
	default:
		return "", false
	}
}
