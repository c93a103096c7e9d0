// Package consensus tallies expert votes into a single gated decision.
package consensus

import (
	"math"

	"ConsensusMCP-Chain/internal/expert"
)

const (
	// MinAgreement is the minimum share of votes, in percent, behind the winner.
	MinAgreement = 60.0
	// MinConfidence is the minimum mean confidence of the winning votes.
	MinConfidence = 70
)

// Decision is the aggregated outcome of one panel round.
type Decision struct {
	Votes          []expert.Vote                 `json:"votes"`
	Counts         map[expert.Recommendation]int `json:"counts"`
	Recommendation expert.Recommendation         `json:"recommendation"`
	Confidence     int                           `json:"confidence"`
	Agreement      float64                       `json:"agreement"`
	Execute        bool                          `json:"execute"`
}

// Decide is deterministic: votes are tallied in the fixed BUY, SELL, HOLD order
// and the first strictly largest bucket wins. An empty input yields HOLD with
// zero agreement and a closed gate.
func Decide(votes []expert.Vote) Decision {
	decision := Decision{
		Votes:          append([]expert.Vote(nil), votes...),
		Counts:         make(map[expert.Recommendation]int, len(expert.Categories)),
		Recommendation: expert.Hold,
	}
	for _, c := range expert.Categories {
		decision.Counts[c] = 0
	}
	if len(votes) == 0 {
		return decision
	}

	for _, v := range votes {
		decision.Counts[bucket(v.Recommendation)]++
	}

	winner, best := expert.Hold, -1
	for _, c := range expert.Categories {
		if decision.Counts[c] > best {
			winner, best = c, decision.Counts[c]
		}
	}

	sum := 0
	for _, v := range votes {
		if bucket(v.Recommendation) == winner {
			sum += clamp(v.Confidence)
		}
	}

	decision.Recommendation = winner
	decision.Agreement = 100 * float64(best) / float64(len(votes))
	decision.Confidence = int(math.Round(float64(sum) / float64(best)))
	decision.Execute = Gate(decision.Agreement, decision.Confidence)
	return decision
}

// Gate reports whether agreement and confidence are both high enough to act.
func Gate(agreement float64, confidence int) bool {
	return agreement >= MinAgreement && confidence >= MinConfidence
}

// bucket maps anything outside the three categories onto HOLD.
func bucket(r expert.Recommendation) expert.Recommendation {
	switch base := r.Base(); base {
	case expert.Buy, expert.Sell:
		return base
	default:
		return expert.Hold
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
