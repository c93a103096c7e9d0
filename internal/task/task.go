package task

import (
	"time"

	xerrors "ConsensusMCP-Chain/internal/errors"
)

// Status 表示自动化任务在链上的生命周期状态。
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// AutomationTask 记录一次成功注册的分步转账自动化任务。
// 状态只在注册时写入 ACTIVE，后续变化需要重新查询链上状态。
type AutomationTask struct {
	ID              string    `json:"id"`
	TxHash          string    `json:"tx_hash"`
	Pair            string    `json:"pair"`
	Account         string    `json:"account"`
	Budget          uint64    `json:"budget"`
	AmountPerStep   uint64    `json:"amount_per_step"`
	Steps           int       `json:"steps"`
	IntervalSeconds uint64    `json:"interval_seconds"`
	SlippageBps     uint64    `json:"slippage_bps"`
	FeeCap          uint64    `json:"fee_cap"`
	Status          Status    `json:"status"`
	RegisteredAt    time.Time `json:"registered_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// IDFromTxHash 取交易哈希末尾 8 个字符作为任务 ID。
func IDFromTxHash(txHash string) string {
	if len(txHash) <= 8 {
		return txHash
	}
	return txHash[len(txHash)-8:]
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示相同 ID 已对应另一笔交易。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task id already bound to another transaction")
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskStatus     xerrors.Code = "TASK_STATUS_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task event",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeTaskStatus, xerrors.Attributes{
		Message:   "automation status unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func validate(t AutomationTask) error {
	switch {
	case t.ID == "":
		return xerrors.New(CodeTaskValidation, "任务 ID 不能为空")
	case t.TxHash == "":
		return xerrors.New(CodeTaskValidation, "交易哈希不能为空")
	case !IsValidStatus(t.Status):
		return xerrors.New(CodeTaskValidation, "未知的任务状态", xerrors.WithMetadata("status", string(t.Status)))
	}
	return nil
}
