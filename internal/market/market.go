// Package market defines the read-only price data the agent consumes and the
// oracle contract that produces it.
package market

import (
	"context"
	"time"

	xerrors "ConsensusMCP-Chain/internal/errors"
)

// Snapshot is the latest quote for a trading pair.
type Snapshot struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Point is one OHLC bucket of historical data.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Oracle fetches market data for a pair.
type Oracle interface {
	FetchSnapshot(ctx context.Context, pair string) (Snapshot, error)
	FetchHistory(ctx context.Context, pair string, hoursBack int) ([]Point, error)
}

// CodePairNotFound marks a pair unknown to the oracle.
const CodePairNotFound xerrors.Code = "MARKET_PAIR_NOT_FOUND"

// ErrNotFound is returned when the oracle has no quote for the pair.
var ErrNotFound = xerrors.New(CodePairNotFound, "pair not found")

func init() {
	xerrors.Register(CodePairNotFound, xerrors.Attributes{
		Message:  "pair not found",
		Severity: xerrors.SeverityInfo,
	})
}
