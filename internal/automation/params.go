package automation

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"ConsensusMCP-Chain/internal/config"
	"ConsensusMCP-Chain/internal/web3"
)

// FallbackExpiry is used whenever the epoch clock cannot anchor an expiry.
const FallbackExpiry = 8 * time.Hour

// Settings holds the constants of the registration protocol. Amounts are in
// micro-units.
type Settings struct {
	Steps              int
	StepInterval       time.Duration
	SlippageBps        uint64
	BalanceBuffer      uint64
	TxOverhead         uint64
	FallbackFeeCap     uint64
	ReferenceGasBudget uint64
	GasPrice           uint64
	ExpiryBuffer       time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffStep        time.Duration
	SettleDelay        time.Duration
	ConflictPatterns   []string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Steps:              2,
		StepInterval:       300 * time.Second,
		SlippageBps:        100,
		BalanceBuffer:      100_000,
		TxOverhead:         10_000,
		FallbackFeeCap:     50_000,
		ReferenceGasBudget: 500_000,
		GasPrice:           100,
		ExpiryBuffer:       time.Hour,
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		BackoffStep:        2 * time.Second,
		SettleDelay:        3 * time.Second,
		ConflictPatterns:   []string{"nonce too low", "sequence number too old"},
	}
}

// SettingsFromConfig converts the automation section of the config.
func SettingsFromConfig(cfg config.AutomationConfig, conflictPatterns []string) Settings {
	s := DefaultSettings()
	if cfg.Steps > 0 {
		s.Steps = cfg.Steps
	}
	if cfg.StepIntervalSeconds > 0 {
		s.StepInterval = time.Duration(cfg.StepIntervalSeconds) * time.Second
	}
	if cfg.SlippageBps > 0 {
		s.SlippageBps = cfg.SlippageBps
	}
	if cfg.BalanceBuffer > 0 {
		s.BalanceBuffer = cfg.BalanceBuffer
	}
	if cfg.TxOverhead > 0 {
		s.TxOverhead = cfg.TxOverhead
	}
	if cfg.FallbackFeeCap > 0 {
		s.FallbackFeeCap = cfg.FallbackFeeCap
	}
	if cfg.ReferenceGasBudget > 0 {
		s.ReferenceGasBudget = cfg.ReferenceGasBudget
	}
	if cfg.GasPrice > 0 {
		s.GasPrice = cfg.GasPrice
	}
	if cfg.ExpiryBufferSeconds > 0 {
		s.ExpiryBuffer = time.Duration(cfg.ExpiryBufferSeconds) * time.Second
	}
	if cfg.MaxAttempts > 0 {
		s.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.SettleDelayMillis >= 0 {
		s.SettleDelay = time.Duration(cfg.SettleDelayMillis) * time.Millisecond
	}
	if len(conflictPatterns) > 0 {
		s.ConflictPatterns = append([]string(nil), conflictPatterns...)
	}
	return s
}

// Backoff returns the wait before retry number n (0-based): base + n*step.
func (s Settings) Backoff(retry int) time.Duration {
	return s.BackoffBase + time.Duration(retry)*s.BackoffStep
}

// Parameters is the derived step schedule.
type Parameters struct {
	Budget          uint64 `json:"budget"`
	Steps           int    `json:"steps"`
	AmountPerStep   uint64 `json:"amount_per_step"`
	IntervalSeconds uint64 `json:"interval_seconds"`
	SlippageBps     uint64 `json:"slippage_bps"`
	FeeCap          uint64 `json:"fee_cap"`
}

// DeriveParameters splits the budget into a fixed number of equal steps.
// Confidence is accepted for interface stability but does not change cadence.
func DeriveParameters(budget uint64, confidence int, s Settings) Parameters {
	_ = confidence
	steps := s.Steps
	if steps <= 0 {
		steps = 1
	}
	return Parameters{
		Budget:          budget,
		Steps:           steps,
		AmountPerStep:   budget / uint64(steps),
		IntervalSeconds: uint64(s.StepInterval / time.Second),
		SlippageBps:     s.SlippageBps,
	}
}

var scheduleArguments = mustArguments("uint64", "uint64", "uint64", "uint64", "uint64")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// EncodeParameters ABI-encodes the schedule as
// (budget, amountPerStep, steps, intervalSeconds, slippageBps).
func EncodeParameters(p Parameters) ([]byte, error) {
	if p.Steps <= 0 {
		return nil, fmt.Errorf("步数必须为正数: %d", p.Steps)
	}
	return scheduleArguments.Pack(p.Budget, p.AmountPerStep, uint64(p.Steps), p.IntervalSeconds, p.SlippageBps)
}

// DecodeParameters reverses EncodeParameters. The fee cap is not encoded.
func DecodeParameters(data []byte) (Parameters, error) {
	values, err := scheduleArguments.Unpack(data)
	if err != nil {
		return Parameters{}, fmt.Errorf("解析自动化参数失败: %w", err)
	}
	if len(values) != 5 {
		return Parameters{}, fmt.Errorf("自动化参数数量异常: %d", len(values))
	}
	fields := make([]uint64, len(values))
	for i, v := range values {
		n, ok := v.(uint64)
		if !ok {
			return Parameters{}, fmt.Errorf("自动化参数类型异常: %T", v)
		}
		fields[i] = n
	}
	return Parameters{
		Budget:          fields[0],
		AmountPerStep:   fields[1],
		Steps:           int(fields[2]),
		IntervalSeconds: fields[3],
		SlippageBps:     fields[4],
	}, nil
}

// ComputeExpiry anchors the expiry to the next epoch boundary plus the safety
// buffer. A read error, an empty epoch state or a boundary already in the past
// falls back to now + FallbackExpiry. It never fails.
func ComputeExpiry(epoch web3.EpochState, readErr error, now time.Time, buffer time.Duration) (time.Time, bool) {
	if readErr == nil {
		if boundary, ok := epoch.NextBoundary(); ok {
			expiry := boundary.Add(buffer)
			if expiry.After(now) {
				return expiry, true
			}
		}
	}
	return now.Add(FallbackExpiry), false
}
