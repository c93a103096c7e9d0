package web3

import (
	"context"
	"time"
)

// EpochState is the ledger's reconfiguration clock, in unix seconds.
type EpochState struct {
	LastReconfig  uint64
	EpochInterval uint64
}

// NextBoundary returns the start of the next epoch. It reports false when the
// state is empty and cannot anchor an expiry.
func (e EpochState) NextBoundary() (time.Time, bool) {
	if e.LastReconfig == 0 || e.EpochInterval == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(e.LastReconfig+e.EpochInterval), 0).UTC(), true
}

// ScheduledTransfer is a signed automation registration. Amounts are in
// micro-units; Expiry is unix seconds.
type ScheduledTransfer struct {
	Signer    string
	Sequence  uint64
	Target    string
	Params    []byte
	GasBudget uint64
	GasPrice  uint64
	FeeCap    uint64
	Expiry    uint64
}

// AutomationStatus mirrors the registry's per-account view methods.
type AutomationStatus struct {
	Initialized     bool   `json:"initialized"`
	Used            uint64 `json:"used"`
	Total           uint64 `json:"total"`
	Received        uint64 `json:"received"`
	Swaps           uint64 `json:"swaps"`
	Active          bool   `json:"active"`
	WillTriggerNext bool   `json:"will_trigger_next"`
}

// Ledger is everything the agent needs from a chain: reads for balance, epoch,
// fee and sequence state, one mutating submission, and the status views.
type Ledger interface {
	ReadBalance(ctx context.Context, address string) (uint64, error)
	ReadEpochState(ctx context.Context) (EpochState, error)
	EstimateFee(ctx context.Context, referenceGasBudget uint64) (uint64, error)
	ReadAccountSequence(ctx context.Context, address string) (uint64, error)
	SubmitScheduledTransfer(ctx context.Context, transfer ScheduledTransfer) (string, error)
	ReadAutomationStatus(ctx context.Context, address string) (AutomationStatus, error)
}
