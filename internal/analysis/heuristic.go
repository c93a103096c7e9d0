package analysis

import (
	"context"
	"fmt"
	"math"

	"ConsensusMCP-Chain/internal/market"
)

// Heuristic is the local fallback used when the model analyzer is disabled.
// It reads only the 24h change and emits text in the analyzer's format.
type Heuristic struct{}

// GenerateAnalysis implements Analyzer.
func (Heuristic) GenerateAnalysis(_ context.Context, snapshot market.Snapshot, _ []market.Point) (string, error) {
	change := snapshot.Change24h
	rec, confidence := "HOLD", 50
	switch {
	case change >= 8:
		rec, confidence = "STRONG_BUY", 80
	case change >= 3:
		rec, confidence = "BUY", 65
	case change <= -8:
		rec, confidence = "STRONG_SELL", 80
	case change <= -3:
		rec, confidence = "SELL", 65
	}

	text := fmt.Sprintf("RECOMMENDATION: %s\nCONFIDENCE: %d\n", rec, confidence)
	if snapshot.Price > 0 && rec != "HOLD" {
		move := math.Abs(change) / 100
		if move > 0.1 {
			move = 0.1
		}
		target, stop := snapshot.Price*(1+move), snapshot.Price*(1-move/2)
		if change < 0 {
			target, stop = snapshot.Price*(1-move), snapshot.Price*(1+move/2)
		}
		text += fmt.Sprintf("TARGET: %.6f\nSTOP: %.6f\n", target, stop)
	}
	text += fmt.Sprintf("REASONING: 24h change of %.2f%% within range %.6f-%.6f", change, snapshot.Low24h, snapshot.High24h)
	return text, nil
}
