package security

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ContextStore 抽象了安全上下文的持久化接口。实现必须保证并发安全。
type ContextStore interface {
	// Create 写入新的上下文。同一 intent 已存在时返回 ErrContextExists。
	Create(ctx context.Context, sc *Context) error
	// Get 返回上下文。不存在时返回 ErrNoSuchContext。
	Get(ctx context.Context, intentID common.Hash) (*Context, error)
	// Update 覆盖已存在的上下文（用于等级升级）。
	Update(ctx context.Context, sc *Context) error
	// Delete 删除上下文。仅用于创建失败后的补偿回滚。
	Delete(ctx context.Context, intentID common.Hash) error
	Close() error
}
