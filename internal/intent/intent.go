package intent

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/security"
)

// Status 表示协调记录在生命周期中的状态。
// 状态迁移是单向的：Executed、Expired、Cancelled 都是终态。
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusReady     Status = "ready"
	StatusExecuted  Status = "executed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusProposed, StatusReady, StatusExecuted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Intent 是提案者签名声明的多方协调意图。一经哈希即不可变，
// 其规范编码的 keccak-256 哈希是全系统通用的 intent 标识。
type Intent struct {
	PayloadHash      common.Hash      `json:"payload_hash"`
	Expiry           uint64           `json:"expiry"`
	Nonce            uint64           `json:"nonce"`
	NetworkID        uint64           `json:"network_id"`
	Proposer         common.Address   `json:"proposer"`
	CoordinationType string           `json:"coordination_type"`
	MaxFeeBudget     *big.Int         `json:"max_fee_budget"`
	Priority         uint8            `json:"priority"`
	DependsOn        *common.Hash     `json:"depends_on,omitempty"`
	Tier             security.Tier    `json:"tier"`
	Participants     []common.Address `json:"participants"`
	EstimatedValue   *big.Int         `json:"estimated_value"`
}

// ExpiresAt 返回过期时刻。
func (i *Intent) ExpiresAt() time.Time {
	return time.Unix(int64(i.Expiry), 0)
}

// Payload 承载协调数据本体。Data 为明文或密文；为密文时
// Metadata 的 key_material 条目携带逆转换所需的密钥材料。
type Payload struct {
	Version          string            `json:"version"`
	CoordinationType string            `json:"coordination_type"`
	Data             []byte            `json:"data"`
	ConditionsHash   common.Hash       `json:"conditions_hash"`
	Timestamp        int64             `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// KeyMaterialKey 是 Payload.Metadata 中携带密钥材料的约定键名。
const KeyMaterialKey = "key_material"

// Record 是状态机为每个 intent 维护的协调记录。
type Record struct {
	IntentID     common.Hash      `json:"intent_id"`
	Status       Status           `json:"status"`
	Proposer     common.Address   `json:"proposer"`
	Tier         security.Tier    `json:"tier"`
	Participants []common.Address `json:"participants"`
	AcceptedBy   []common.Address `json:"accepted_by"`
	CreatedAt    time.Time        `json:"created_at"`
	Expiry       time.Time        `json:"expiry"`
	// InFlight 是防重入执行标记：外部协作方校验期间置位，提交后清除。
	InFlight bool `json:"in_flight"`
}

// Accepted 判断身份是否已接受该 intent。
func (r *Record) Accepted(identity common.Address) bool {
	for _, a := range r.AcceptedBy {
		if a == identity {
			return true
		}
	}
	return false
}

// Live 判断记录是否仍处于可变状态。
func (r *Record) Live() bool {
	return r.Status == StatusProposed || r.Status == StatusReady
}

// ExpiredAt 判断记录在给定时刻是否已过期。只有活跃记录会过期。
func (r *Record) ExpiredAt(now time.Time) bool {
	return r.Live() && !now.Before(r.Expiry)
}

func (r *Record) clone() *Record {
	clone := *r
	clone.Participants = append([]common.Address(nil), r.Participants...)
	clone.AcceptedBy = append([]common.Address(nil), r.AcceptedBy...)
	return &clone
}

var (
	// ErrRecordNotFound 表示指定的协调记录不存在。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "coordination record not found")
	// ErrInvalidSignature 表示提案签名无法通过恢复校验。
	ErrInvalidSignature = xerrors.New(CodeInvalidSignature, "intent signature verification failed")
	// ErrInvalidAttestation 表示接受方的签名无法通过恢复校验。
	ErrInvalidAttestation = xerrors.New(CodeInvalidAttestation, "acceptance attestation verification failed")
	// ErrNonceMismatch 表示提案 nonce 不等于上一个已用值加一。
	ErrNonceMismatch = xerrors.New(CodeNonceMismatch, "nonce must advance by exactly one")
	// ErrIntentExpired 表示 intent 已过有效期。
	ErrIntentExpired = xerrors.New(CodeIntentExpired, "intent has expired")
	// ErrPayloadMismatch 表示载荷哈希与 intent 声明不一致。
	ErrPayloadMismatch = xerrors.New(CodePayloadMismatch, "payload hash does not match intent")
	// ErrDuplicateIntent 表示该 intent 已存在协调记录。
	ErrDuplicateIntent = xerrors.New(CodeDuplicateIntent, "intent already proposed")
	// ErrNotParticipant 表示身份没有该 intent 的参与授权。
	ErrNotParticipant = xerrors.New(CodeNotParticipant, "identity not authorized for intent")
	// ErrBadState 表示操作在当前生命周期状态下不被允许。
	ErrBadState = xerrors.New(CodeBadState, "operation not allowed in current status")
	// ErrTierRejected 表示安全上下文管理器拒绝了执行前校验。
	ErrTierRejected = xerrors.New(CodeTierRejected, "tier validation rejected execution")
	// ErrReentrancy 表示检测到对同一记录的重入执行。
	ErrReentrancy = xerrors.New(CodeReentrancy, "execution already in progress")
	// ErrNotProposer 表示调用者不是原始提案者。
	ErrNotProposer = xerrors.New(CodeNotProposer, "only the proposer may cancel")
)

const (
	CodeRecordNotFound     xerrors.Code = "INTENT_RECORD_NOT_FOUND"
	CodeInvalidSignature   xerrors.Code = "INTENT_INVALID_SIGNATURE"
	CodeInvalidAttestation xerrors.Code = "INTENT_INVALID_ATTESTATION"
	CodeNonceMismatch      xerrors.Code = "INTENT_NONCE_MISMATCH"
	CodeIntentExpired      xerrors.Code = "INTENT_EXPIRED"
	CodePayloadMismatch    xerrors.Code = "INTENT_PAYLOAD_MISMATCH"
	CodeDuplicateIntent    xerrors.Code = "INTENT_DUPLICATE"
	CodeNotParticipant     xerrors.Code = "INTENT_NOT_PARTICIPANT"
	CodeBadState           xerrors.Code = "INTENT_BAD_STATE"
	CodeTierRejected       xerrors.Code = "INTENT_TIER_REJECTED"
	CodeReentrancy         xerrors.Code = "INTENT_REENTRANCY"
	CodeNotProposer        xerrors.Code = "INTENT_NOT_PROPOSER"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:  "coordination record not found",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidSignature, xerrors.Attributes{
		Message:  "intent signature verification failed",
		Kind:     xerrors.KindCrypto,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvalidAttestation, xerrors.Attributes{
		Message:  "acceptance attestation verification failed",
		Kind:     xerrors.KindCrypto,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNonceMismatch, xerrors.Attributes{
		Message:  "nonce must advance by exactly one",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeIntentExpired, xerrors.Attributes{
		Message:  "intent has expired",
		Kind:     xerrors.KindTemporal,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePayloadMismatch, xerrors.Attributes{
		Message:  "payload hash does not match intent",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeDuplicateIntent, xerrors.Attributes{
		Message:  "intent already proposed",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotParticipant, xerrors.Attributes{
		Message:  "identity not authorized for intent",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeBadState, xerrors.Attributes{
		Message:  "operation not allowed in current status",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTierRejected, xerrors.Attributes{
		Message:  "tier validation rejected execution",
		Kind:     xerrors.KindTemporal,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeReentrancy, xerrors.Attributes{
		Message:  "execution already in progress",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeNotProposer, xerrors.Attributes{
		Message:  "only the proposer may cancel",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
}
