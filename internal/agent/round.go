package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ConsensusMCP-Chain/internal/analysis"
	"ConsensusMCP-Chain/internal/automation"
	"ConsensusMCP-Chain/internal/consensus"
	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/market"
	"ConsensusMCP-Chain/internal/observability/alerting"
	"ConsensusMCP-Chain/internal/observability/metrics"
)

// State 是一轮执行所处的阶段。
type State string

// 一轮按顺序经过以下阶段，Submitted 与 Skipped 二选一。
const (
	StateIdle          State = "idle"
	StateDataFetched   State = "data_fetched"
	StateAnalyzed      State = "analyzed"
	StateExpertsPolled State = "experts_polled"
	StateDecided       State = "decided"
	StateSubmitted     State = "submitted"
	StateSkipped       State = "skipped"
	StateRecorded      State = "recorded"
)

// RoundResult 是一轮的对外结果，Path 记录经过的阶段。
type RoundResult struct {
	RoundID        string                `json:"round_id"`
	Pair           string                `json:"pair"`
	Recommendation expert.Recommendation `json:"recommendation"`
	Confidence     int                   `json:"confidence"`
	Reasoning      string                `json:"reasoning"`
	Votes          []expert.Vote         `json:"votes,omitempty"`
	Consensus      *consensus.Decision   `json:"consensus,omitempty"`
	TaskID         string                `json:"task_id,omitempty"`
	SubmitError    string                `json:"submit_error,omitempty"`
	Path           []State               `json:"path"`
}

func (r *RoundResult) advance(s State) { r.Path = append(r.Path, s) }

// RunRound 执行一轮完整流程。行情或分析失败时返回 (nil, nil)。
func (a *Agent) RunRound(ctx context.Context, pair string) (*RoundResult, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	started := time.Now()
	defer func() { metrics.ObserveRoundDuration(pair, time.Since(started)) }()
	result := &RoundResult{RoundID: a.newID(), Pair: pair, Path: []State{StateIdle}}
	log := a.log.With(slog.String("pair", pair), slog.String("round_id", result.RoundID))

	snapshot, history, err := a.fetch(ctx, pair)
	if err != nil {
		log.Warn("行情获取失败，本轮跳过", slog.Any("error", xerrors.Wrap(CodeRoundFetchFailed, err, "fetch snapshot")))
		metrics.ObserveRound(pair, metrics.RoundNoResult)
		return nil, nil
	}
	result.advance(StateDataFetched)

	text, err := a.analyze(ctx, snapshot, history)
	if err != nil {
		log.Warn("分析失败，本轮跳过", slog.Any("error", xerrors.Wrap(CodeRoundFetchFailed, err, "generate analysis")))
		metrics.ObserveRound(pair, metrics.RoundNoResult)
		return nil, nil
	}
	draft := analysis.ParseDraft(text)
	result.advance(StateAnalyzed)

	var decision *consensus.Decision
	if a.policy.ExpertPanel && a.panel != nil {
		votes := a.panel.Poll(ctx, snapshot, history, text)
		for _, v := range votes {
			metrics.ObserveVote(string(v.Recommendation), v.Degraded)
		}
		result.Votes = votes
		result.advance(StateExpertsPolled)

		d := consensus.Decide(votes)
		decision = &d
		if d.Execute {
			draft.Recommendation = d.Recommendation
			draft.Confidence = d.Confidence
		}
		log.Info("专家共识",
			slog.String("recommendation", string(d.Recommendation)),
			slog.Int("confidence", d.Confidence),
			slog.Float64("agreement", d.Agreement),
			slog.Bool("execute", d.Execute))
	}
	result.Consensus = decision
	result.Recommendation = draft.Recommendation
	result.Confidence = draft.Confidence
	result.Reasoning = draft.Reasoning
	result.advance(StateDecided)

	outcome := metrics.RoundSkipped
	if a.shouldSubmit(draft.Recommendation, draft.Confidence, decision) {
		registered, err := a.submitter.Submit(ctx, automation.Request{
			Pair:           pair,
			Recommendation: draft.Recommendation,
			Confidence:     draft.Confidence,
			Budget:         a.policy.Budget,
			Target:         a.policy.Target,
		})
		if err != nil {
			outcome = metrics.RoundSubmitFailed
			result.SubmitError = err.Error()
			log.Error("自动化任务注册失败",
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err))
			a.alert(ctx, err, pair, result.RoundID)
			result.advance(StateSkipped)
		} else {
			outcome = metrics.RoundSubmitted
			result.TaskID = registered.ID
			log.Info("自动化任务已注册", slog.String("task_id", registered.ID), slog.String("tx_hash", registered.TxHash))
			result.advance(StateSubmitted)
		}
	} else {
		result.advance(StateSkipped)
	}

	record := AnalysisRecord{
		RoundID:        result.RoundID,
		Pair:           pair,
		Recommendation: draft.Recommendation,
		Confidence:     draft.Confidence,
		Reasoning:      draft.Reasoning,
		Target:         draft.Target,
		Stop:           draft.Stop,
		Consensus:      decision,
		TaskID:         result.TaskID,
		Timestamp:      a.now().UTC(),
	}
	a.history.Append(record)
	if a.records != nil {
		if err := a.records.SaveRecord(ctx, record); err != nil {
			log.Warn("分析记录持久化失败", slog.Any("error", err))
		}
	}
	result.advance(StateRecorded)
	metrics.ObserveRound(pair, outcome)
	return result, nil
}

func (a *Agent) fetch(ctx context.Context, pair string) (market.Snapshot, []market.Point, error) {
	callCtx, cancel := a.withTimeout(ctx)
	snapshot, err := a.oracle.FetchSnapshot(callCtx, pair)
	cancel()
	if err != nil {
		return market.Snapshot{}, nil, err
	}

	// 历史数据缺失不影响本轮，按空序列继续。
	callCtx, cancel = a.withTimeout(ctx)
	defer cancel()
	history, err := a.oracle.FetchHistory(callCtx, pair, a.policy.HistoryHours)
	if err != nil {
		a.log.Debug("历史行情不可用", slog.String("pair", pair), slog.Any("error", err))
		history = nil
	}
	return snapshot, history, nil
}

func (a *Agent) analyze(ctx context.Context, snapshot market.Snapshot, history []market.Point) (string, error) {
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.analyzer.GenerateAnalysis(callCtx, snapshot, history)
}

func (a *Agent) alert(ctx context.Context, err error, pair, roundID string) {
	if a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := a.alerts.Notify(ctx, alerting.EventFromError(err, pair, roundID)); notifyErr != nil {
		a.log.Warn("告警发送失败", slog.Any("error", notifyErr))
	}
}
