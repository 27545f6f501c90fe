package intent

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore 以内存方式保存协调记录与 nonce 表，主要用于测试与单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[common.Hash]*Record
	nonces  map[common.Address]uint64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[common.Hash]*Record),
		nonces:  make(map[common.Address]uint64),
	}
}

// Propose 实现 Store 接口。记录写入与 nonce 推进在同一把锁下完成。
func (m *MemoryStore) Propose(_ context.Context, record *Record, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.IntentID]; ok {
		return ErrDuplicateIntent
	}
	m.records[record.IntentID] = record.clone()
	m.nonces[record.Proposer] = nonce
	return nil
}

// Get 返回记录副本。
func (m *MemoryStore) Get(_ context.Context, intentID common.Hash) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[intentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record.clone(), nil
}

// Update 覆盖已存在的记录。在途执行中的记录拒绝覆盖，
// 只能由 FinishExecute 提交。
func (m *MemoryStore) Update(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[record.IntentID]
	if !ok {
		return ErrRecordNotFound
	}
	if current.InFlight {
		return ErrReentrancy
	}
	m.records[record.IntentID] = record.clone()
	return nil
}

// Nonce 返回身份最近一次使用的 nonce。
func (m *MemoryStore) Nonce(_ context.Context, identity common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nonces[identity], nil
}

// BeginExecute 做防重入的置位检查。
func (m *MemoryStore) BeginExecute(_ context.Context, intentID common.Hash) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[intentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if record.InFlight {
		return nil, ErrReentrancy
	}
	if record.Status != StatusReady {
		return nil, ErrBadState
	}
	record.InFlight = true
	return record.clone(), nil
}

// FinishExecute 清除防重入标记并提交最终状态。
// 仅当记录仍处于 Ready 且在途时提交，其余情形返回 ErrBadState，
// 防止覆盖执行期间被结算过的记录。
func (m *MemoryStore) FinishExecute(_ context.Context, intentID common.Hash, final Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[intentID]
	if !ok {
		return ErrRecordNotFound
	}
	if !record.InFlight || record.Status != StatusReady {
		return ErrBadState
	}
	record.InFlight = false
	record.Status = final
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
