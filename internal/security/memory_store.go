package security

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryContextStore 以内存方式保存安全上下文，主要用于测试与单机部署。
type MemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[common.Hash]*Context
}

// NewMemoryContextStore 创建 MemoryContextStore。
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[common.Hash]*Context)}
}

// Create 实现 ContextStore 接口。
func (m *MemoryContextStore) Create(_ context.Context, sc *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[sc.IntentID]; ok {
		return ErrContextExists
	}
	m.contexts[sc.IntentID] = sc.clone()
	return nil
}

// Get 返回上下文副本。
func (m *MemoryContextStore) Get(_ context.Context, intentID common.Hash) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.contexts[intentID]
	if !ok {
		return nil, ErrNoSuchContext
	}
	return sc.clone(), nil
}

// Update 覆盖已存在的上下文。
func (m *MemoryContextStore) Update(_ context.Context, sc *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[sc.IntentID]; !ok {
		return ErrNoSuchContext
	}
	m.contexts[sc.IntentID] = sc.clone()
	return nil
}

// Delete 删除上下文。
func (m *MemoryContextStore) Delete(_ context.Context, intentID common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, intentID)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryContextStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ ContextStore = (*MemoryContextStore)(nil)
