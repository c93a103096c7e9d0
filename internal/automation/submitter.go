package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"time"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/observability/metrics"
	"ConsensusMCP-Chain/internal/task"
	"ConsensusMCP-Chain/internal/web3"
	"ConsensusMCP-Chain/pkg/logger"
)

const defaultCallTimeout = 30 * time.Second

// Appender receives registered tasks.
type Appender interface {
	Append(ctx context.Context, t task.AutomationTask) error
}

// Request describes one registration. Budget is in micro-units.
type Request struct {
	Pair           string
	Recommendation expert.Recommendation
	Confidence     int
	Budget         uint64
	Target         string
}

// Submitter runs the registration protocol against a ledger.
type Submitter struct {
	ledger      web3.Ledger
	registry    Appender
	account     string
	settings    Settings
	classifier  Classifier
	callTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	log         *slog.Logger
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithSettings replaces the protocol constants.
func WithSettings(s Settings) Option {
	return func(sub *Submitter) {
		sub.settings = s
	}
}

// WithCallTimeout bounds each ledger read and submission.
func WithCallTimeout(timeout time.Duration) Option {
	return func(sub *Submitter) {
		if timeout > 0 {
			sub.callTimeout = timeout
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(sub *Submitter) {
		if now != nil {
			sub.now = now
		}
	}
}

// WithSleeper replaces the backoff and settle wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(sub *Submitter) {
		if sleep != nil {
			sub.sleep = sleep
		}
	}
}

// NewSubmitter builds a submitter signing as account.
func NewSubmitter(ledger web3.Ledger, registry Appender, account string, opts ...Option) *Submitter {
	s := &Submitter{
		ledger:      ledger,
		registry:    registry,
		account:     strings.TrimSpace(account),
		settings:    DefaultSettings(),
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		sleep:       sleepContext,
		log:         logger.Named("automation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.settings.MaxAttempts <= 0 {
		s.settings.MaxAttempts = 1
	}
	s.classifier = NewClassifier(s.settings.ConflictPatterns)
	return s
}

// Account returns the signing account.
func (s *Submitter) Account() string { return s.account }

// Submit registers the scheduled transfer and records the resulting task.
func (s *Submitter) Submit(ctx context.Context, req Request) (*task.AutomationTask, error) {
	if s.ledger == nil || s.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "自动化提交器未初始化")
	}
	if req.Budget == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "预算必须大于 0")
	}
	if strings.TrimSpace(req.Target) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定自动化目标")
	}

	// 1. 余额检查，不足时立即失败。
	balance, err := s.readBalance(ctx)
	if err != nil {
		return nil, err
	}
	required, ok := sumMicro(req.Budget, s.settings.BalanceBuffer)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "预算与缓冲之和超出可表示范围",
			xerrors.WithMetadata("budget", strconv.FormatUint(req.Budget, 10)))
	}
	if balance < required {
		return nil, insufficientBalance("余额不足以覆盖预算与缓冲", required, balance)
	}

	// 2. 参数推导。
	params := DeriveParameters(req.Budget, req.Confidence, s.settings)

	// 3. 过期时间，读取失败时降级。
	expiry := s.expiry(ctx)

	// 4. 手续费上限，估算失败时降级。
	params.FeeCap = s.feeCap(ctx)

	// 5. 结合手续费再次校验余额。
	total, ok := sumMicro(params.FeeCap, req.Budget, s.settings.TxOverhead)
	if !ok || balance < total {
		return nil, xerrors.New(CodeInsufficientBalance, "余额不足以覆盖手续费、预算与交易开销",
			xerrors.WithMetadata("total", strconv.FormatUint(total, 10)),
			xerrors.WithMetadata("fee_cap", strconv.FormatUint(params.FeeCap, 10)),
			xerrors.WithMetadata("available", strconv.FormatUint(balance, 10)),
		)
	}

	encoded, err := EncodeParameters(params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码自动化参数失败")
	}

	// 6. 提交，序列号冲突时有限重试。
	txHash, err := s.submitWithRetry(ctx, req, web3.ScheduledTransfer{
		Signer:    s.account,
		Target:    req.Target,
		Params:    encoded,
		GasBudget: s.settings.ReferenceGasBudget,
		GasPrice:  s.settings.GasPrice,
		FeeCap:    params.FeeCap,
		Expiry:    uint64(expiry.Unix()),
	})
	if err != nil {
		return nil, err
	}

	// 7. 固定等待，不轮询最终性。
	if s.settings.SettleDelay > 0 {
		_ = s.sleep(ctx, s.settings.SettleDelay)
	}

	// 8. 生成任务并登记。
	registered := task.AutomationTask{
		ID:              task.IDFromTxHash(txHash),
		TxHash:          txHash,
		Pair:            req.Pair,
		Account:         s.account,
		Budget:          params.Budget,
		AmountPerStep:   params.AmountPerStep,
		Steps:           params.Steps,
		IntervalSeconds: params.IntervalSeconds,
		SlippageBps:     params.SlippageBps,
		FeeCap:          params.FeeCap,
		Status:          task.StatusActive,
		RegisteredAt:    s.now(),
		ExpiresAt:       expiry,
	}
	if err := s.registry.Append(ctx, registered); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记自动化任务失败",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	return &registered, nil
}

func (s *Submitter) submitWithRetry(ctx context.Context, req Request, transfer web3.ScheduledTransfer) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.settings.MaxAttempts; attempt++ {
		seq, err := s.readSequence(ctx)
		if err != nil {
			return "", err
		}
		transfer.Sequence = seq

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		txHash, err := s.ledger.SubmitScheduledTransfer(callCtx, transfer)
		cancel()

		logger.Audit().Info("自动化注册提交",
			slog.String("pair", req.Pair),
			slog.Int("attempt", attempt),
			slog.Uint64("sequence", seq),
			slog.Uint64("budget", req.Budget),
			slog.String("tx_hash", txHash),
			slog.Bool("ok", err == nil),
		)
		if err == nil {
			metrics.ObserveSubmission("ok")
			return txHash, nil
		}

		if !s.classifier.IsConflict(err) {
			metrics.ObserveSubmission("failed")
			return "", xerrors.Wrap(CodeSubmitFailed, err, "",
				xerrors.WithMetadata("attempt", strconv.Itoa(attempt)))
		}
		metrics.ObserveSubmission("conflict")
		lastErr = xerrors.Wrap(CodeSequenceConflict, err, "",
			xerrors.WithMetadata("sequence", strconv.FormatUint(seq, 10)))
		s.log.Warn("序列号冲突，准备重试",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.settings.MaxAttempts),
			slog.Any("error", lastErr))

		if attempt == s.settings.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, s.settings.Backoff(attempt-1)); err != nil {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "等待重试时被取消")
		}
	}
	return "", xerrors.Wrap(CodeSequenceConflictExhausted, lastErr, "",
		xerrors.WithMetadata("attempts", strconv.Itoa(s.settings.MaxAttempts)))
}

func (s *Submitter) readBalance(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	balance, err := s.ledger.ReadBalance(callCtx, s.account)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "读取账户余额失败")
	}
	return balance, nil
}

func (s *Submitter) readSequence(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	seq, err := s.ledger.ReadAccountSequence(callCtx, s.account)
	if err != nil {
		return 0, xerrors.Wrap(CodeSubmitFailed, err, "读取账户序列号失败")
	}
	return seq, nil
}

func (s *Submitter) expiry(ctx context.Context) time.Time {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	epoch, err := s.ledger.ReadEpochState(callCtx)
	expiry, anchored := ComputeExpiry(epoch, err, s.now(), s.settings.ExpiryBuffer)
	if !anchored {
		s.log.Warn("无法根据 epoch 计算过期时间，使用默认值",
			slog.Duration("fallback", FallbackExpiry),
			slog.Any("error", err))
	}
	return expiry
}

func (s *Submitter) feeCap(ctx context.Context) uint64 {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	fee, err := s.ledger.EstimateFee(callCtx, s.settings.ReferenceGasBudget)
	if err != nil || fee == 0 {
		s.log.Warn("手续费估算失败，使用固定上限",
			slog.Uint64("fee_cap", s.settings.FallbackFeeCap),
			slog.Any("error", err))
		return s.settings.FallbackFeeCap
	}
	return fee
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// String renders the parameters for logs and the CLI.
func (p Parameters) String() string {
	return fmt.Sprintf("budget=%s steps=%d per_step=%s interval=%ds slippage=%dbps fee_cap=%s",
		web3.AmountFromMicro(p.Budget).String(), p.Steps,
		web3.AmountFromMicro(p.AmountPerStep).String(),
		p.IntervalSeconds, p.SlippageBps,
		web3.AmountFromMicro(p.FeeCap).String())
}

// sumMicro adds micro-unit amounts and reports false on overflow.
func sumMicro(values ...uint64) (total uint64, ok bool) {
	for _, v := range values {
		var carry uint64
		total, carry = bits.Add64(total, v, 0)
		if carry != 0 {
			return math.MaxUint64, false
		}
	}
	return total, true
}
