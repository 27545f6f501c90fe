package intent

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了协调记录与 nonce 表的持久化接口。
// nonce 表只属于协调状态机，任何其他组件不得写入。
// 实现必须保证每个方法原子生效：要么完整落库，要么毫无痕迹。
type Store interface {
	// Propose 原子地写入新记录并把提案者 nonce 推进到给定值。
	// 记录已存在时返回 ErrDuplicateIntent 且 nonce 不变。
	Propose(ctx context.Context, record *Record, nonce uint64) error
	// Get 返回记录。不存在时返回 ErrRecordNotFound。
	Get(ctx context.Context, intentID common.Hash) (*Record, error)
	// Update 覆盖已存在的记录（接受、取消、过期迁移）。
	Update(ctx context.Context, record *Record) error
	// Nonce 返回身份最近一次使用的 nonce，从未提案时为 0。
	Nonce(ctx context.Context, identity common.Address) (uint64, error)
	// BeginExecute 对 Ready 记录做防重入的置位检查：已置位返回
	// ErrReentrancy，状态不是 Ready 返回 ErrBadState，并返回记录快照。
	BeginExecute(ctx context.Context, intentID common.Hash) (*Record, error)
	// FinishExecute 清除防重入标记并把状态置为 final。
	// 校验失败回退时 final 传 StatusReady。
	FinishExecute(ctx context.Context, intentID common.Hash, final Status) error
	Close() error
}
