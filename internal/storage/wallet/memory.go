package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 将钱包保存在进程内存中，适合开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore 创建内存钱包存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get 返回记录副本。
func (m *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &record, nil
}

// Create 插入新记录。
func (m *MemoryStore) Create(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.UserID]; ok {
		return ErrWalletConflict
	}
	m.records[record.UserID] = record
	return nil
}

// SetInGame 更新 in_game 标记。
func (m *MemoryStore) SetInGame(_ context.Context, userID string, inGame bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[userID]
	if !ok {
		return ErrWalletNotFound
	}
	record.InGame = inGame
	record.UpdatedAt = time.Now().UTC()
	m.records[userID] = record
	return nil
}

// Close 无需释放资源。
func (m *MemoryStore) Close() error { return nil }
