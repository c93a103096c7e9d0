package expert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsensusMCP-Chain/internal/market"
)

type stubGenerator struct {
	answers map[string]string
	fail    map[string]bool
	block   map[string]bool
	calls   atomic.Int32
}

func (s *stubGenerator) GenerateExpertOpinion(ctx context.Context, profile Profile, _ market.Snapshot, _ []market.Point, _ string) (string, error) {
	s.calls.Add(1)
	if s.block[profile.ID] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.fail[profile.ID] {
		return "", errors.New("upstream unavailable")
	}
	return s.answers[profile.ID], nil
}

func TestPollReturnsOneVotePerProfileInOrder(t *testing.T) {
	gen := &stubGenerator{
		answers: map[string]string{
			"technical_analyst": "RECOMMENDATION: BUY\nCONFIDENCE: 80\nREASONING: breakout",
			"sentiment_analyst": "RECOMMENDATION: BUY\nCONFIDENCE: 70",
			"onchain_analyst":   "RECOMMENDATION: SELL\nCONFIDENCE: 60",
			"macro_strategist":  "garbage",
		},
		fail: map[string]bool{"risk_manager": true},
	}
	panel := NewPanel(gen)

	votes := panel.Poll(context.Background(), market.Snapshot{Pair: "ETH_USDT"}, nil, "")

	require.Len(t, votes, 5)
	assert.EqualValues(t, 5, gen.calls.Load())
	for i, p := range DefaultProfiles() {
		assert.Equal(t, p.ID, votes[i].ExpertID)
	}
	assert.Equal(t, Buy, votes[0].Recommendation)
	assert.Equal(t, "breakout", votes[0].Reasoning)
	assert.Equal(t, FallbackVote(DefaultProfiles()[2]), votes[2])
	assert.Equal(t, "fallback", votes[2].Reasoning)
	assert.Equal(t, Hold, votes[4].Recommendation)
	assert.Equal(t, DefaultConfidence, votes[4].Confidence)
	assert.False(t, votes[4].Degraded)
}

func TestPollBoundsSlowExperts(t *testing.T) {
	gen := &stubGenerator{
		answers: map[string]string{"fast": "RECOMMENDATION: SELL\nCONFIDENCE: 77"},
		block:   map[string]bool{"slow": true},
	}
	panel := NewPanel(gen,
		WithProfiles([]Profile{{ID: "fast"}, {ID: "slow"}}),
		WithCallTimeout(20*time.Millisecond))

	start := time.Now()
	votes := panel.Poll(context.Background(), market.Snapshot{}, nil, "")

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, votes, 2)
	assert.Equal(t, Sell, votes[0].Recommendation)
	assert.True(t, votes[1].Degraded)
	assert.Equal(t, Hold, votes[1].Recommendation)
}

func TestPollWithoutGeneratorDegradesEveryVote(t *testing.T) {
	panel := NewPanel(nil)
	votes := panel.Poll(context.Background(), market.Snapshot{}, nil, "")
	require.Len(t, votes, len(DefaultProfiles()))
	for _, v := range votes {
		assert.True(t, v.Degraded)
	}
}

type panickingGenerator struct{ target string }

func (g panickingGenerator) GenerateExpertOpinion(_ context.Context, profile Profile, _ market.Snapshot, _ []market.Point, _ string) (string, error) {
	if profile.ID == g.target {
		panic("nil map write")
	}
	return "RECOMMENDATION: BUY\nCONFIDENCE: 75", nil
}

func TestPollRecoversFromPanickingExpert(t *testing.T) {
	profiles := DefaultProfiles()
	panel := NewPanel(panickingGenerator{target: profiles[1].ID})

	votes := panel.Poll(context.Background(), market.Snapshot{Pair: "ETH_USDT"}, nil, "")

	require.Len(t, votes, len(profiles))
	assert.Equal(t, FallbackVote(profiles[1]), votes[1])
	assert.True(t, votes[1].Degraded)
	assert.Equal(t, Buy, votes[0].Recommendation)
	assert.Equal(t, 75, votes[0].Confidence)
}
