package security

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPact/internal/errors"
)

// Context 记录单个 intent 的安全上下文。每个 intent 至多存在一个。
type Context struct {
	IntentID     common.Hash      `json:"intent_id"`
	Tier         Tier             `json:"tier"`
	Timelock     time.Duration    `json:"timelock"`
	CreatedAt    time.Time        `json:"created_at"`
	Creator      common.Address   `json:"creator"`
	Participants []common.Address `json:"participants"`
}

// HasParticipant 判断身份是否在参与者集合中。
func (c *Context) HasParticipant(identity common.Address) bool {
	for _, p := range c.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// Unlocked 判断时间锁是否已届满。
func (c *Context) Unlocked(now time.Time) bool {
	return !now.Before(c.CreatedAt.Add(c.Timelock))
}

func (c *Context) clone() *Context {
	clone := *c
	clone.Participants = append([]common.Address(nil), c.Participants...)
	return &clone
}

var (
	// ErrInvalidTier 表示等级不在支持的枚举范围内。
	ErrInvalidTier = xerrors.New(CodeInvalidTier, "invalid security tier")
	// ErrInvalidParticipantCount 表示参与者数量超出允许区间。
	ErrInvalidParticipantCount = xerrors.New(CodeInvalidParticipantCount, "participant count out of bounds")
	// ErrTimelockTooShort 表示自定义时间锁低于等级下限。
	ErrTimelockTooShort = xerrors.New(CodeTimelockTooShort, "timelock below tier minimum")
	// ErrMissingPublicKey 表示 Maximum 等级要求的公钥承诺缺失。
	ErrMissingPublicKey = xerrors.New(CodeMissingPublicKey, "participant has no registered public key")
	// ErrContextExists 表示该 intent 已存在安全上下文，不允许重建。
	ErrContextExists = xerrors.New(CodeContextExists, "security context already exists")
	// ErrNoSuchContext 表示该 intent 没有安全上下文。
	ErrNoSuchContext = xerrors.New(CodeNoSuchContext, "security context not found")
	// ErrCannotDowngrade 表示尝试把等级降到不高于当前的序数。
	ErrCannotDowngrade = xerrors.New(CodeCannotDowngrade, "tier can only be raised")
	// ErrTimelockActive 表示时间锁未届满，不允许升级。
	ErrTimelockActive = xerrors.New(CodeTimelockActive, "timelock still active")
	// ErrNotContextAdmin 表示调用者既不是创建者也不是模块 owner。
	ErrNotContextAdmin = xerrors.New(CodeNotContextAdmin, "caller is neither creator nor owner")
	// ErrNotSelf 表示身份试图登记他人的公钥承诺。
	ErrNotSelf = xerrors.New(CodeNotSelf, "public key registration is self-service only")
)

const (
	CodeInvalidTier             xerrors.Code = "SECURITY_INVALID_TIER"
	CodeInvalidParticipantCount xerrors.Code = "SECURITY_INVALID_PARTICIPANT_COUNT"
	CodeTimelockTooShort        xerrors.Code = "SECURITY_TIMELOCK_TOO_SHORT"
	CodeMissingPublicKey        xerrors.Code = "SECURITY_MISSING_PUBLIC_KEY"
	CodeContextExists           xerrors.Code = "SECURITY_CONTEXT_EXISTS"
	CodeNoSuchContext           xerrors.Code = "SECURITY_CONTEXT_NOT_FOUND"
	CodeCannotDowngrade         xerrors.Code = "SECURITY_CANNOT_DOWNGRADE"
	CodeTimelockActive          xerrors.Code = "SECURITY_TIMELOCK_ACTIVE"
	CodeNotContextAdmin         xerrors.Code = "SECURITY_NOT_CONTEXT_ADMIN"
	CodeNotSelf                 xerrors.Code = "SECURITY_NOT_SELF"
)

func init() {
	xerrors.Register(CodeInvalidTier, xerrors.Attributes{
		Message:  "invalid security tier",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidParticipantCount, xerrors.Attributes{
		Message:  "participant count out of bounds",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTimelockTooShort, xerrors.Attributes{
		Message:  "timelock below tier minimum",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeMissingPublicKey, xerrors.Attributes{
		Message:  "participant has no registered public key",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeContextExists, xerrors.Attributes{
		Message:  "security context already exists",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNoSuchContext, xerrors.Attributes{
		Message:  "security context not found",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeCannotDowngrade, xerrors.Attributes{
		Message:  "tier can only be raised",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTimelockActive, xerrors.Attributes{
		Message:  "timelock still active",
		Kind:     xerrors.KindTemporal,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotContextAdmin, xerrors.Attributes{
		Message:  "caller is neither creator nor owner",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotSelf, xerrors.Attributes{
		Message:  "public key registration is self-service only",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
}
