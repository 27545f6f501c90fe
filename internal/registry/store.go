package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AccessState 描述一条授权记录的状态。吊销是终态，不可恢复。
type AccessState int

const (
	// AccessAbsent 表示从未授权过。
	AccessAbsent AccessState = iota
	// AccessGranted 表示授权有效。
	AccessGranted
	// AccessRevoked 表示授权已被显式吊销。
	AccessRevoked
)

// Store 抽象了访问授权表与公钥登记表的持久化接口。
// 实现必须保证并发安全。
type Store interface {
	// GrantAccess 为指定 intent 的参与者写入授权记录。
	GrantAccess(ctx context.Context, intentID common.Hash, identity common.Address) error
	// RevokeAccess 将授权置为吊销态。吊销后不可重新授权。
	RevokeAccess(ctx context.Context, intentID common.Hash, identity common.Address) error
	// ClearAccess 删除仍处于 Granted 状态的授权记录，用于上下文创建
	// 失败时清理已写入的授权。吊销记录是终态，不受清理影响。
	ClearAccess(ctx context.Context, intentID common.Hash, identity common.Address) error
	// AccessState 返回授权记录的当前状态。
	AccessState(ctx context.Context, intentID common.Hash, identity common.Address) (AccessState, error)

	// PutPublicKey 登记身份的公钥承诺。
	PutPublicKey(ctx context.Context, identity common.Address, commitment Commitment) error
	// GetPublicKey 查询身份的公钥承诺，未登记返回 ErrKeyNotFound。
	GetPublicKey(ctx context.Context, identity common.Address) (Commitment, error)

	Close() error
}
