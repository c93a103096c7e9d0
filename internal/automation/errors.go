package automation

import (
	"strconv"

	xerrors "ConsensusMCP-Chain/internal/errors"
)

const (
	CodeInsufficientBalance       xerrors.Code = "AUTOMATION_INSUFFICIENT_BALANCE"
	CodeSequenceConflict          xerrors.Code = "AUTOMATION_SEQUENCE_CONFLICT"
	CodeSequenceConflictExhausted xerrors.Code = "AUTOMATION_SEQUENCE_CONFLICT_EXHAUSTED"
	CodeSubmitFailed              xerrors.Code = "AUTOMATION_SUBMIT_FAILED"
)

var (
	// ErrInsufficientBalance 用于 errors.Is 判断余额不足。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "")
	// ErrSequenceConflictExhausted 用于 errors.Is 判断冲突重试耗尽。
	ErrSequenceConflictExhausted = xerrors.New(CodeSequenceConflictExhausted, "")
	// ErrSubmitFailed 用于 errors.Is 判断非冲突的提交失败。
	ErrSubmitFailed = xerrors.New(CodeSubmitFailed, "")
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:   "insufficient balance for automation",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSequenceConflict, xerrors.Attributes{
		Message:   "account sequence conflict",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeSequenceConflictExhausted, xerrors.Attributes{
		Message:   "sequence conflict retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSubmitFailed, xerrors.Attributes{
		Message:   "automation submission failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

func insufficientBalance(message string, required, available uint64) error {
	return xerrors.New(CodeInsufficientBalance, message,
		xerrors.WithMetadata("required", strconv.FormatUint(required, 10)),
		xerrors.WithMetadata("available", strconv.FormatUint(available, 10)),
	)
}
