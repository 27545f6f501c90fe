package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type accessKey struct {
	intentID common.Hash
	identity common.Address
}

// MemoryStore 以内存方式保存授权表与公钥表，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	access map[accessKey]AccessState
	keys   map[common.Address]Commitment
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		access: make(map[accessKey]AccessState),
		keys:   make(map[common.Address]Commitment),
	}
}

// GrantAccess 实现 Store 接口。对已吊销的记录授权会失败。
func (m *MemoryStore) GrantAccess(_ context.Context, intentID common.Hash, identity common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{intentID: intentID, identity: identity}
	if m.access[key] == AccessRevoked {
		return ErrAccessRevoked
	}
	m.access[key] = AccessGranted
	return nil
}

// RevokeAccess 将记录置为吊销态。重复吊销是幂等的。
func (m *MemoryStore) RevokeAccess(_ context.Context, intentID common.Hash, identity common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access[accessKey{intentID: intentID, identity: identity}] = AccessRevoked
	return nil
}

// ClearAccess 删除仍然有效的授权记录。吊销记录保持不动。
func (m *MemoryStore) ClearAccess(_ context.Context, intentID common.Hash, identity common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accessKey{intentID: intentID, identity: identity}
	if m.access[key] == AccessGranted {
		delete(m.access, key)
	}
	return nil
}

// AccessState 返回授权记录的当前状态。
func (m *MemoryStore) AccessState(_ context.Context, intentID common.Hash, identity common.Address) (AccessState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access[accessKey{intentID: intentID, identity: identity}], nil
}

// PutPublicKey 登记公钥承诺。身份只能登记自己的条目，该约束由上层校验。
func (m *MemoryStore) PutPublicKey(_ context.Context, identity common.Address, commitment Commitment) error {
	if commitment.IsZero() {
		return ErrInvalidPublicKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[identity] = commitment
	return nil
}

// GetPublicKey 查询公钥承诺。
func (m *MemoryStore) GetPublicKey(_ context.Context, identity common.Address) (Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	commitment, ok := m.keys[identity]
	if !ok {
		return Commitment{}, ErrKeyNotFound
	}
	return commitment, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
