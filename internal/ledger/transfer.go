// Package ledger keeps an audit record of every transfer request and the
// pipeline states it passed through. Records are write-only from the
// pipeline's point of view: nothing read back from the ledger influences
// nonce selection or wallet state.
package ledger

import (
	"net/http"

	xerrors "SafeGuard-Agent/internal/errors"
)

// State 表示转账请求在流水线中的状态。
type State string

const (
	StateReceived        State = "received"
	StateGuardApproved   State = "guard_approved"
	StateGuardRejected   State = "guard_rejected"
	StateBuilt           State = "built"
	StateSigned          State = "signed"
	StateRelaySubmitted  State = "relay_submitted"
	StatePendingCosign   State = "pending_cosign"
	StateExecuted        State = "executed"
	StateExecutionFailed State = "execution_failed"
	StateFailed          State = "failed"
)

// Transfer 是一次 /send 请求的审计记录。
type Transfer struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	ChatID       int64   `json:"chat_id,omitempty"`
	UserID       int64   `json:"user_id,omitempty"`
	Username     string  `json:"username,omitempty"`
	Amount       string  `json:"amount"`
	Recipient    string  `json:"recipient"`
	State        State   `json:"state"`
	Nonce        *uint64 `json:"nonce,omitempty"`
	SafeTxHash   string  `json:"safe_tx_hash,omitempty"`
	ExecTxHash   string  `json:"exec_tx_hash,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Patch 描述一次状态迁移附带的字段更新，零值字段保持不变。
type Patch struct {
	Nonce        *uint64
	SafeTxHash   string
	ExecTxHash   string
	ErrorCode    string
	ErrorMessage string
}

func (p Patch) apply(t *Transfer) {
	if p.Nonce != nil {
		n := *p.Nonce
		t.Nonce = &n
	}
	if p.SafeTxHash != "" {
		t.SafeTxHash = p.SafeTxHash
	}
	if p.ExecTxHash != "" {
		t.ExecTxHash = p.ExecTxHash
	}
	if p.ErrorCode != "" {
		t.ErrorCode = p.ErrorCode
	}
	if p.ErrorMessage != "" {
		t.ErrorMessage = p.ErrorMessage
	}
}

const (
	CodeTransferNotFound xerrors.Code = "TRANSFER_NOT_FOUND"
	CodeTransferConflict xerrors.Code = "TRANSFER_CONFLICT"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = xerrors.New(CodeTransferNotFound, "transfer not found")
	// ErrConflict 表示记录已存在或已处于终态。
	ErrConflict = xerrors.New(CodeTransferConflict, "transfer conflict")
)

func init() {
	xerrors.Register(CodeTransferNotFound, xerrors.Attributes{Message: "transfer not found", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusNotFound})
	xerrors.Register(CodeTransferConflict, xerrors.Attributes{Message: "transfer conflict", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusConflict})
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(state State) bool {
	switch state {
	case StateGuardRejected, StatePendingCosign, StateExecuted, StateExecutionFailed, StateFailed:
		return true
	default:
		return false
	}
}

// IsValidState 检查状态是否为支持的枚举值。
func IsValidState(state State) bool {
	switch state {
	case StateReceived, StateGuardApproved, StateGuardRejected, StateBuilt, StateSigned,
		StateRelaySubmitted, StatePendingCosign, StateExecuted, StateExecutionFailed, StateFailed:
		return true
	default:
		return false
	}
}

// AllStates 按流水线顺序返回全部状态。
func AllStates() []State {
	return []State{
		StateReceived, StateGuardApproved, StateGuardRejected, StateBuilt, StateSigned,
		StateRelaySubmitted, StatePendingCosign, StateExecuted, StateExecutionFailed, StateFailed,
	}
}

func cloneTransfer(t *Transfer) *Transfer {
	clone := *t
	if t.Nonce != nil {
		n := *t.Nonce
		clone.Nonce = &n
	}
	return &clone
}
