package expert

import (
	"context"
	"fmt"
	"strings"

	"ConsensusMCP-Chain/internal/llm"
	"ConsensusMCP-Chain/internal/market"
)

const opinionFormat = `Answer in exactly this format:
RECOMMENDATION: BUY | SELL | HOLD
CONFIDENCE: <integer 0-100>
REASONING: <one sentence>`

// LLMOpinions asks a text-generation model to play each expert role.
type LLMOpinions struct {
	client llm.Client
}

// NewLLMOpinions wraps an llm.Client as an OpinionGenerator.
func NewLLMOpinions(client llm.Client) *LLMOpinions {
	return &LLMOpinions{client: client}
}

// GenerateExpertOpinion implements OpinionGenerator.
func (o *LLMOpinions) GenerateExpertOpinion(ctx context.Context, profile Profile, snapshot market.Snapshot, history []market.Point, prior string) (string, error) {
	if o == nil || o.client == nil {
		return "", fmt.Errorf("未配置大模型客户端")
	}
	resp, err := o.client.Complete(ctx, llm.Request{
		System: fmt.Sprintf("You are the %s on a crypto trading panel. Focus: %s\n%s", profile.Role, profile.Specialty, opinionFormat),
		Prompt: BuildOpinionPrompt(snapshot, history, prior),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// BuildOpinionPrompt renders the market context shared by every expert.
func BuildOpinionPrompt(snapshot market.Snapshot, history []market.Point, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pair: %s\n", snapshot.Pair)
	fmt.Fprintf(&b, "Price: %.6f\n", snapshot.Price)
	fmt.Fprintf(&b, "24h change: %.2f%%\n", snapshot.Change24h)
	fmt.Fprintf(&b, "24h range: %.6f - %.6f\n", snapshot.Low24h, snapshot.High24h)
	fmt.Fprintf(&b, "History points: %d\n", len(history))
	if n := len(history); n > 0 {
		first, last := history[0], history[n-1]
		fmt.Fprintf(&b, "History close: %.6f -> %.6f\n", first.Close, last.Close)
	}
	if prior = strings.TrimSpace(prior); prior != "" {
		b.WriteString("\nPrior analysis:\n")
		b.WriteString(prior)
		b.WriteString("\n")
	}
	return b.String()
}
