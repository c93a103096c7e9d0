// Package automation registers multi-step scheduled transfers on the ledger.
//
// A submission checks the balance, derives the step schedule, anchors the
// expiry to the ledger's epoch clock, caps the fee and then submits with a
// bounded retry on sequence-number conflicts. Only the submission itself is a
// mutating call; every read has a fallback except the balance check.
package automation
