package turn

import (
	"context"
	"sync"
	"time"
)

// Locker 是带租约的按用户互斥原语。Acquire 必须是原子的 set-if-absent，
// Release 只能清除 token 匹配的租约。
type Locker interface {
	Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, token string) error
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker 是单进程内的 Locker 实现，适合单实例部署与测试。
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

// NewMemoryLocker 创建内存锁。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease), now: time.Now}
}

// Acquire 在用户没有有效租约时写入新租约。
func (m *MemoryLocker) Acquire(_ context.Context, userID, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if current, ok := m.leases[userID]; ok && now.Before(current.expiresAt) {
		return false, nil
	}
	m.leases[userID] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release 删除 token 匹配的租约。
func (m *MemoryLocker) Release(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.leases[userID]; ok && current.token == token {
		delete(m.leases, userID)
	}
	return nil
}

// Held 判断用户当前是否持有有效租约。
func (m *MemoryLocker) Held(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.leases[userID]
	return ok && m.now().Before(current.expiresAt)
}
