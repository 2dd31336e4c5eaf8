package db

import (
	"context"
	"sync"
	"time"

	"github.com/airenas/session-replay-server/internal/domain"
)

// MemoryResumeManager keeps last playback positions in process memory. It is
// the default when no Redis URL is configured.
type MemoryResumeManager struct {
	positions map[int64]*domain.Resume

	lock sync.RWMutex
}

func NewMemoryResumeManager() *MemoryResumeManager {
	return &MemoryResumeManager{positions: make(map[int64]*domain.Resume)}
}

// SaveResume implements ResumeManager.
func (m *MemoryResumeManager) SaveResume(ctx context.Context, in *domain.Resume) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	cp := *in
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.positions[in.SessionID] = &cp
	return nil
}

// GetResume implements ResumeManager, nil when no position is stored.
func (m *MemoryResumeManager) GetResume(ctx context.Context, sessionID int64) (*domain.Resume, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	data, ok := m.positions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *data
	return &cp, nil
}

// DeleteResume implements ResumeManager.
func (m *MemoryResumeManager) DeleteResume(ctx context.Context, sessionID int64) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.positions, sessionID)
	return nil
}
