package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ConsensusMCP-Chain/internal/analysis"
	"ConsensusMCP-Chain/internal/automation"
	"ConsensusMCP-Chain/internal/config"
	"ConsensusMCP-Chain/internal/consensus"
	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/market"
	"ConsensusMCP-Chain/internal/observability/alerting"
	"ConsensusMCP-Chain/internal/task"
	"ConsensusMCP-Chain/internal/web3"
	"ConsensusMCP-Chain/pkg/logger"
)

// CodeRoundFetchFailed 表示行情或分析阶段失败，本轮无结果。
const CodeRoundFetchFailed xerrors.Code = "ROUND_FETCH_FAILED"

func init() {
	xerrors.Register(CodeRoundFetchFailed, xerrors.Attributes{
		Message:   "round aborted before decision",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// 默认策略参数。
const (
	DefaultConfidenceThreshold = 75
	DefaultHistoryHours        = 24
	defaultCallTimeout         = 30 * time.Second
)

// Poller 汇总专家意见。
type Poller interface {
	Poll(ctx context.Context, snapshot market.Snapshot, history []market.Point, prior string) []expert.Vote
}

// Submitter 将交易意图注册为链上自动化任务。
type Submitter interface {
	Submit(ctx context.Context, req automation.Request) (*task.AutomationTask, error)
}

// RecordStore 持久化分析记录，可选。
type RecordStore interface {
	SaveRecord(ctx context.Context, record AnalysisRecord) error
}

// Policy 控制一轮结束后是否以及如何提交。Budget 以 micro 为单位。
type Policy struct {
	ExpertPanel         bool
	AutoExecute         bool
	ConfidenceThreshold int
	Budget              uint64
	Target              string
	HistoryHours        int
}

// PolicyFromConfig 由配置生成策略，预算从代币数量换算为 micro。
func PolicyFromConfig(cfg config.AgentConfig, historyHours int) Policy {
	return Policy{
		ExpertPanel:         cfg.ExpertPanel,
		AutoExecute:         cfg.AutoExecute,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Budget:              web3.MicroFromAmount(decimal.NewFromFloat(cfg.Budget)),
		Target:              strings.TrimSpace(cfg.Target),
		HistoryHours:        historyHours,
	}
}

// Agent 编排一轮分析、投票与提交。
type Agent struct {
	oracle      market.Oracle
	analyzer    analysis.Analyzer
	panel       Poller
	submitter   Submitter
	records     RecordStore
	alerts      alerting.Dispatcher
	history     *History
	policy      Policy
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string
	log         *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithAnalyzer 替换默认的本地启发式分析器。
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(ag *Agent) {
		if a != nil {
			ag.analyzer = a
		}
	}
}

// WithPanel 配置专家小组。
func WithPanel(p Poller) Option {
	return func(a *Agent) {
		a.panel = p
	}
}

// WithSubmitter 配置自动化提交器。
func WithSubmitter(s Submitter) Option {
	return func(a *Agent) {
		a.submitter = s
	}
}

// WithRecordStore 配置分析记录的持久化。
func WithRecordStore(store RecordStore) Option {
	return func(a *Agent) {
		a.records = store
	}
}

// WithAlerting 配置告警分发器。
func WithAlerting(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = d
	}
}

// WithPolicy 设置提交策略。
func WithPolicy(p Policy) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

// WithHistoryDepth 设置历史记录容量。
func WithHistoryDepth(depth int) Option {
	return func(a *Agent) {
		a.history = NewHistory(depth)
	}
}

// WithCallTimeout 设置单次外部调用的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.callTimeout = timeout
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator 替换轮次 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(a *Agent) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// New 创建一个 Agent。
func New(oracle market.Oracle, opts ...Option) *Agent {
	a := &Agent{
		oracle:      oracle,
		analyzer:    analysis.Heuristic{},
		history:     NewHistory(DefaultHistoryDepth),
		policy:      Policy{ConfidenceThreshold: DefaultConfidenceThreshold, HistoryHours: DefaultHistoryHours},
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.policy.HistoryHours <= 0 {
		a.policy.HistoryHours = DefaultHistoryHours
	}
	return a
}

// History 返回最近的分析记录。
func (a *Agent) History() []AnalysisRecord {
	return a.history.Records()
}

// Restore 用持久化的记录预填历史，records 需按时间正序。
func (a *Agent) Restore(records []AnalysisRecord) {
	for _, record := range records {
		a.history.Append(record)
	}
}

// Policy 返回当前策略。
func (a *Agent) Policy() Policy { return a.policy }

func (a *Agent) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.callTimeout)
}

func (a *Agent) shouldSubmit(rec expert.Recommendation, confidence int, decision *consensus.Decision) bool {
	if !a.policy.AutoExecute || a.submitter == nil || !rec.IsBuy() {
		return false
	}
	gate := decision != nil && decision.Execute
	return gate || confidence >= a.policy.ConfidenceThreshold
}
