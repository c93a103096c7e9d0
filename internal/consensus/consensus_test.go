package consensus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsensusMCP-Chain/internal/expert"
)

func votes(recs ...expert.Recommendation) []expert.Vote {
	out := make([]expert.Vote, len(recs))
	for i, r := range recs {
		out[i] = expert.Vote{ExpertID: string(r), Recommendation: r, Confidence: 80}
	}
	return out
}

func TestDecideZeroVotes(t *testing.T) {
	d := Decide(nil)
	assert.Equal(t, expert.Hold, d.Recommendation)
	assert.Zero(t, d.Agreement)
	assert.Zero(t, d.Confidence)
	assert.False(t, d.Execute)
}

func TestDecideFiveVoteExample(t *testing.T) {
	in := votes(expert.Buy, expert.Buy, expert.Buy, expert.Sell, expert.Hold)
	in[0].Confidence, in[1].Confidence, in[2].Confidence = 70, 75, 71
	in[3].Confidence, in[4].Confidence = 10, 10

	d := Decide(in)
	assert.Equal(t, expert.Buy, d.Recommendation)
	assert.InDelta(t, 60.0, d.Agreement, 1e-9)
	assert.Equal(t, 72, d.Confidence)
	assert.True(t, d.Execute)

	in[0].Confidence = 60
	d = Decide(in)
	assert.Equal(t, 69, d.Confidence)
	assert.False(t, d.Execute, "gate must depend only on the winning votes")
}

func TestGateBoundaries(t *testing.T) {
	assert.False(t, Gate(59, 70))
	assert.False(t, Gate(60, 69))
	assert.True(t, Gate(60, 70))
	assert.False(t, Gate(59.99, 100))
}

func TestDecideTieFollowsCategoryOrder(t *testing.T) {
	d := Decide(votes(expert.Sell, expert.Buy))
	assert.Equal(t, expert.Buy, d.Recommendation)

	d = Decide(votes(expert.Hold, expert.Sell))
	assert.Equal(t, expert.Sell, d.Recommendation)
	assert.InDelta(t, 50.0, d.Agreement, 1e-9)
	assert.False(t, d.Execute)
}

func TestDecideMeanConfidenceRounds(t *testing.T) {
	in := votes(expert.Sell, expert.Sell)
	in[0].Confidence, in[1].Confidence = 70, 71
	d := Decide(in)
	assert.Equal(t, 71, d.Confidence)
	assert.InDelta(t, 100.0, d.Agreement, 1e-9)
	assert.True(t, d.Execute)
}

func TestDecideInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	categories := []expert.Recommendation{expert.Buy, expert.Sell, expert.Hold, expert.StrongBuy}
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(9)
		in := make([]expert.Vote, n)
		for i := range in {
			in[i] = expert.Vote{
				Recommendation: categories[rng.Intn(len(categories))],
				Confidence:     rng.Intn(101),
			}
		}

		d := Decide(in)
		total := 0
		for _, c := range d.Counts {
			total += c
		}
		require.Equal(t, n, total)
		require.GreaterOrEqual(t, d.Agreement, 0.0)
		require.LessOrEqual(t, d.Agreement, 100.0)
		require.GreaterOrEqual(t, d.Confidence, 0)
		require.LessOrEqual(t, d.Confidence, 100)
		require.Equal(t, d.Agreement >= 60 && d.Confidence >= 70, d.Execute)
		require.Equal(t, d, Decide(in))
	}
}
