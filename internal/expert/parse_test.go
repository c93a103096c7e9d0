package expert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOpinion(t *testing.T) {
	profile := Profile{ID: "risk_manager", Role: "Risk Manager"}
	cases := []struct {
		name string
		text string
		want Vote
	}{
		{
			name: "labeled fields",
			text: "RECOMMENDATION: BUY\nCONFIDENCE: 82\nREASONING: momentum is intact",
			want: Vote{Recommendation: Buy, Confidence: 82, Reasoning: "momentum is intact"},
		},
		{
			name: "markdown decoration and strong variant",
			text: "**RECOMMENDATION:** strong sell\n**CONFIDENCE:** 91%\n**REASONING:** breakdown below support",
			want: Vote{Recommendation: Sell, Confidence: 91, Reasoning: "breakdown below support"},
		},
		{
			name: "bare keyword",
			text: "I would SELL here, confidence: 64",
			want: Vote{Recommendation: Sell, Confidence: 64, Reasoning: DefaultReasoning},
		},
		{
			name: "nothing parseable",
			text: "the market is uncertain",
			want: Vote{Recommendation: Hold, Confidence: DefaultConfidence, Reasoning: DefaultReasoning},
		},
		{
			name: "confidence clamped",
			text: "RECOMMENDATION: HOLD\nCONFIDENCE: 250",
			want: Vote{Recommendation: Hold, Confidence: 100, Reasoning: DefaultReasoning},
		},
		{
			name: "fractional confidence read as ratio",
			text: "RECOMMENDATION: BUY\nCONFIDENCE: 0.85\nREASONING: ok",
			want: Vote{Recommendation: Buy, Confidence: 85, Reasoning: "ok"},
		},
		{
			name: "decimal percentage rounded",
			text: "RECOMMENDATION: SELL\nCONFIDENCE: 72.6%",
			want: Vote{Recommendation: Sell, Confidence: 73, Reasoning: DefaultReasoning},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseOpinion(profile, tc.text)
			assert.Equal(t, profile.ID, got.ExpertID)
			assert.Equal(t, tc.want.Recommendation, got.Recommendation)
			assert.Equal(t, tc.want.Confidence, got.Confidence)
			assert.Equal(t, tc.want.Reasoning, got.Reasoning)
			assert.False(t, got.Degraded)
		})
	}
}

func TestExtractRecommendationKeepsStrongVariants(t *testing.T) {
	rec, ok := ExtractRecommendation("RECOMMENDATION: STRONG_BUY")
	assert.True(t, ok)
	assert.Equal(t, StrongBuy, rec)
	assert.True(t, rec.IsBuy())
	assert.Equal(t, Buy, rec.Base())

	_, ok = ExtractRecommendation("no signal at all")
	assert.False(t, ok)
}

func TestExtractLevel(t *testing.T) {
	text := "TARGET: $3,100\nTARGET_PRICE: 3150.5\nSTOP: 2800"
	target, ok := ExtractLevel(text, "TARGET_PRICE", "TARGET")
	assert.True(t, ok)
	assert.InDelta(t, 3150.5, target, 1e-9)

	stop, ok := ExtractLevel(text, "STOP_LOSS", "STOP")
	assert.True(t, ok)
	assert.InDelta(t, 2800, stop, 1e-9)

	_, ok = ExtractLevel(text, "ENTRY")
	assert.False(t, ok)
}
