package registry

import (
	stdErrors "errors"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPact/internal/errors"
)

// Commitment 是参与者提交的 32 字节公钥承诺。
type Commitment [32]byte

// IsZero 判断承诺是否为全零（非法值）。
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// Bytes 返回承诺的字节切片副本。
func (c Commitment) Bytes() []byte {
	out := make([]byte, len(c))
	copy(out, c[:])
	return out
}

var (
	// ErrInvalidPublicKey 表示提交的公钥承诺非法（全零）。
	ErrInvalidPublicKey = xerrors.New(CodeInvalidPublicKey, "public key commitment is zero")
	// ErrKeyNotFound 表示身份尚未登记公钥承诺。
	ErrKeyNotFound = xerrors.New(CodeKeyNotFound, "public key not registered")
	// ErrAccessDenied 表示身份对指定 intent 没有访问授权。
	ErrAccessDenied = xerrors.New(CodeAccessDenied, "identity not authorized for intent")
	// ErrAccessRevoked 表示授权已被显式吊销，且不可恢复。
	ErrAccessRevoked = xerrors.New(CodeAccessRevoked, "access has been revoked")
)

const (
	CodeInvalidPublicKey xerrors.Code = "REGISTRY_INVALID_PUBLIC_KEY"
	CodeKeyNotFound      xerrors.Code = "REGISTRY_KEY_NOT_FOUND"
	CodeAccessDenied     xerrors.Code = "REGISTRY_ACCESS_DENIED"
	CodeAccessRevoked    xerrors.Code = "REGISTRY_ACCESS_REVOKED"
)

func init() {
	xerrors.Register(CodeInvalidPublicKey, xerrors.Attributes{
		Message:  "public key commitment is zero",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeKeyNotFound, xerrors.Attributes{
		Message:  "public key not registered",
		Kind:     xerrors.KindState,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAccessDenied, xerrors.Attributes{
		Message:  "identity not authorized for intent",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAccessRevoked, xerrors.Attributes{
		Message:  "access has been revoked",
		Kind:     xerrors.KindAuthorization,
		Severity: xerrors.SeverityWarning,
	})
}

// IsRegistryError 判断错误是否为指定的注册表错误码。
func IsRegistryError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeInvalidPublicKey:
		return stdErrors.Is(err, ErrInvalidPublicKey)
	case CodeKeyNotFound:
		return stdErrors.Is(err, ErrKeyNotFound)
	case CodeAccessDenied:
		return stdErrors.Is(err, ErrAccessDenied)
	case CodeAccessRevoked:
		return stdErrors.Is(err, ErrAccessRevoked)
	default:
		return false
	}
}

// AccessChecker 是加解密管线在解密时咨询授权状态的最小接口。
type AccessChecker interface {
	IsAuthorized(intentID common.Hash, identity common.Address) bool
}
