package expert

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ConsensusMCP-Chain/internal/market"
	"ConsensusMCP-Chain/pkg/logger"
)

const (
	defaultCallTimeout = 30 * time.Second
	fallbackReasoning  = "fallback"
)

// Vote is one expert's opinion for a single round.
type Vote struct {
	ExpertID       string         `json:"expert_id"`
	Role           string         `json:"role"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     int            `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	// Degraded marks a vote that replaced a failed expert call.
	Degraded bool `json:"degraded,omitempty"`
}

// FallbackVote is recorded for an expert whose call failed or timed out.
func FallbackVote(profile Profile) Vote {
	return Vote{
		ExpertID:       profile.ID,
		Role:           profile.Role,
		Recommendation: Hold,
		Confidence:     DefaultConfidence,
		Reasoning:      fallbackReasoning,
		Degraded:       true,
	}
}

// OpinionGenerator produces the free-text opinion of a single expert.
type OpinionGenerator interface {
	GenerateExpertOpinion(ctx context.Context, profile Profile, snapshot market.Snapshot, history []market.Point, prior string) (string, error)
}

// Panel fans a round out to every configured profile.
type Panel struct {
	generator   OpinionGenerator
	profiles    []Profile
	callTimeout time.Duration
	log         *slog.Logger
}

// Option customizes a Panel.
type Option func(*Panel)

// WithProfiles replaces the default panel composition.
func WithProfiles(profiles []Profile) Option {
	return func(p *Panel) {
		if len(profiles) > 0 {
			p.profiles = append([]Profile(nil), profiles...)
		}
	}
}

// WithCallTimeout bounds each expert call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(p *Panel) {
		if timeout > 0 {
			p.callTimeout = timeout
		}
	}
}

// WithLogger overrides the panel logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Panel) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPanel builds a panel backed by the given generator.
func NewPanel(generator OpinionGenerator, opts ...Option) *Panel {
	p := &Panel{
		generator:   generator,
		profiles:    DefaultProfiles(),
		callTimeout: defaultCallTimeout,
		log:         logger.Named("expert"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profiles returns a copy of the panel composition.
func (p *Panel) Profiles() []Profile {
	return append([]Profile(nil), p.profiles...)
}

// Poll asks every expert concurrently and waits for all of them. The result has
// one vote per profile in profile order; failed calls become fallback votes.
func (p *Panel) Poll(ctx context.Context, snapshot market.Snapshot, history []market.Point, prior string) []Vote {
	votes := make([]Vote, len(p.profiles))
	var group errgroup.Group
	for i, profile := range p.profiles {
		group.Go(func() error {
			votes[i] = p.ask(ctx, profile, snapshot, history, prior)
			return nil
		})
	}
	_ = group.Wait()

	degraded := 0
	for _, v := range votes {
		if v.Degraded {
			degraded++
		}
	}
	p.log.Info("专家投票完成",
		slog.String("pair", snapshot.Pair),
		slog.Int("votes", len(votes)),
		slog.Int("degraded", degraded))
	return votes
}

func (p *Panel) ask(ctx context.Context, profile Profile, snapshot market.Snapshot, history []market.Point, prior string) (vote Vote) {
	if p.generator == nil {
		return FallbackVote(profile)
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("专家调用异常，使用默认投票",
				slog.String("expert", profile.ID),
				slog.Any("panic", r))
			vote = FallbackVote(profile)
		}
	}()
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	text, err := p.generator.GenerateExpertOpinion(callCtx, profile, snapshot, history, prior)
	if err != nil {
		p.log.Warn("专家调用失败，使用默认投票",
			slog.String("expert", profile.ID),
			slog.Any("error", err))
		return FallbackVote(profile)
	}
	return ParseOpinion(profile, text)
}
