// Package analysis produces the single-shot market read that precedes the
// expert panel: either a model-written analysis or a local heuristic.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/llm"
	"ConsensusMCP-Chain/internal/market"
)

// Analyzer writes a free-text analysis for a snapshot and its history.
type Analyzer interface {
	GenerateAnalysis(ctx context.Context, snapshot market.Snapshot, history []market.Point) (string, error)
}

// Draft is the structured reading of an analysis text.
type Draft struct {
	Recommendation expert.Recommendation
	Confidence     int
	Reasoning      string
	Target         *float64
	Stop           *float64
	Text           string
}

// ParseDraft extracts a draft from analysis text. Missing fields take the same
// defaults as expert votes; target and stop stay nil when absent.
func ParseDraft(text string) Draft {
	d := Draft{
		Recommendation: expert.Hold,
		Confidence:     expert.DefaultConfidence,
		Reasoning:      expert.DefaultReasoning,
		Text:           text,
	}
	if rec, ok := expert.ExtractRecommendation(text); ok {
		d.Recommendation = rec
	}
	if c, ok := expert.ExtractConfidence(text); ok {
		d.Confidence = c
	}
	if r, ok := expert.ExtractReasoning(text); ok {
		d.Reasoning = r
	}
	if v, ok := expert.ExtractLevel(text, "TARGET_PRICE", "TARGET"); ok {
		d.Target = &v
	}
	if v, ok := expert.ExtractLevel(text, "STOP_LOSS", "STOP"); ok {
		d.Stop = &v
	}
	return d
}

const analysisFormat = `Answer in exactly this format:
RECOMMENDATION: STRONG_BUY | BUY | HOLD | SELL | STRONG_SELL
CONFIDENCE: <integer 0-100>
TARGET: <price or none>
STOP: <price or none>
REASONING: <two sentences at most>`

// LLMAnalyzer asks a model for a single analysis.
type LLMAnalyzer struct {
	client llm.Client
}

// NewLLMAnalyzer wraps an llm.Client.
func NewLLMAnalyzer(client llm.Client) *LLMAnalyzer {
	return &LLMAnalyzer{client: client}
}

// GenerateAnalysis implements Analyzer.
func (a *LLMAnalyzer) GenerateAnalysis(ctx context.Context, snapshot market.Snapshot, history []market.Point) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("未配置大模型客户端")
	}
	resp, err := a.client.Complete(ctx, llm.Request{
		System: "You are a disciplined crypto market analyst.\n" + analysisFormat,
		Prompt: expert.BuildOpinionPrompt(snapshot, history, ""),
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("分析结果为空")
	}
	return resp.Text, nil
}
