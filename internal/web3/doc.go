// Package web3 defines the ledger contract consumed by the automation
// submitter and the task registry, plus unit conversions between on-chain wei
// and the micro-unit amounts used throughout the agent.
package web3
