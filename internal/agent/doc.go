// Package agent runs the trading round: fetch market data, analyse it,
// poll the expert panel, apply the consensus gate and, when the policy
// allows, register an on-chain automation task. Every round leaves an
// analysis record in a bounded in-memory history.
package agent
