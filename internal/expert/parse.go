package expert

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultConfidence is used whenever no confidence figure can be extracted.
	DefaultConfidence = 50
	// DefaultReasoning is used when the text carries no REASONING line.
	DefaultReasoning = "No reasoning provided"
)

var (
	labeledRecommendation = regexp.MustCompile(`(?i)RECOMMENDATION\s*[:：]\s*[*_"']*\s*(STRONG[ _-]?BUY|STRONG[ _-]?SELL|BUY|SELL|HOLD)\b`)
	bareRecommendation    = regexp.MustCompile(`\b(STRONG_BUY|STRONG_SELL|BUY|SELL|HOLD)\b`)
	confidencePattern     = regexp.MustCompile(`(?i)CONFIDENCE\s*[:：]\s*[*_"']*\s*(-?\d+(?:\.\d+)?)`)
	reasoningPattern      = regexp.MustCompile(`(?im)^\s*[*_]*REASONING[*_]*\s*[:：]\s*(.+)$`)
)

// ExtractRecommendation returns the labeled recommendation, falling back to the
// first standalone upper-case keyword. STRONG_ variants are preserved.
func ExtractRecommendation(text string) (Recommendation, bool) {
	if m := labeledRecommendation.FindStringSubmatch(text); m != nil {
		if rec, ok := ParseRecommendation(m[1]); ok {
			return rec, true
		}
	}
	if m := bareRecommendation.FindStringSubmatch(text); m != nil {
		if rec, ok := ParseRecommendation(m[1]); ok {
			return rec, true
		}
	}
	return "", false
}

// ExtractConfidence returns the CONFIDENCE figure clamped to [0,100].
// A fractional figure in [0,1] such as 0.85 is read as a ratio.
func ExtractConfidence(text string) (int, bool) {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if strings.Contains(m[1], ".") && value >= 0 && value <= 1 {
		value *= 100
	}
	return clampConfidence(int(math.Round(math.Min(value, 100)))), true
}

// ExtractReasoning returns the first REASONING line.
func ExtractReasoning(text string) (string, bool) {
	m := reasoningPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	reasoning := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `*_"`))
	if reasoning == "" {
		return "", false
	}
	return reasoning, true
}

// ExtractLevel finds a numeric value labeled with one of the given names,
// e.g. ExtractLevel(text, "TARGET", "TARGET_PRICE").
func ExtractLevel(text string, labels ...string) (float64, bool) {
	for _, label := range labels {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(label) + `\s*[:：]\s*\$?\s*([0-9]+(?:\.[0-9]+)?)`)
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			continue
		}
		return value, true
	}
	return 0, false
}

// ParseOpinion converts an expert answer into a vote. Each missing field falls
// back to its default independently; the result is always a valid vote.
func ParseOpinion(profile Profile, text string) Vote {
	vote := Vote{
		ExpertID:       profile.ID,
		Role:           profile.Role,
		Recommendation: Hold,
		Confidence:     DefaultConfidence,
		Reasoning:      DefaultReasoning,
	}
	if rec, ok := ExtractRecommendation(text); ok {
		vote.Recommendation = rec.Base()
	}
	if confidence, ok := ExtractConfidence(text); ok {
		vote.Confidence = confidence
	}
	if reasoning, ok := ExtractReasoning(text); ok {
		vote.Reasoning = reasoning
	}
	return vote
}

func clampConfidence(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
