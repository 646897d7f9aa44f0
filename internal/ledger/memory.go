package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "SafeGuard-Agent/internal/errors"
)

// MemoryStore 以内存方式保存转账记录，进程重启后丢失。
type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
	now       func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[string]*Transfer), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, transfer *Transfer) error {
	if transfer == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "transfer 不能为空")
	}
	if strings.TrimSpace(transfer.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transfers[transfer.ID]; ok {
		return ErrConflict
	}
	now := m.now().Unix()
	if transfer.State == "" {
		transfer.State = StateReceived
	}
	if transfer.CreatedAt == 0 {
		transfer.CreatedAt = now
	}
	transfer.UpdatedAt = now
	m.transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

// Transition 更新状态并合并附带字段。终态记录不可再迁移。
func (m *MemoryStore) Transition(_ context.Context, id string, state State, patch Patch) error {
	if !IsValidState(state) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的转账状态: "+string(state))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	transfer, ok := m.transfers[id]
	if !ok {
		return ErrNotFound
	}
	if IsTerminal(transfer.State) {
		return ErrConflict
	}
	patch.apply(transfer)
	transfer.State = state
	transfer.UpdatedAt = m.now().Unix()
	return nil
}

// Get 返回记录副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	transfer, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransfer(transfer), nil
}

// List 返回符合过滤条件的记录。
func (m *MemoryStore) List(_ context.Context, opts ...ListOption) ([]*Transfer, error) {
	options := buildListOptions(opts)

	m.mu.RLock()
	results := make([]*Transfer, 0, len(m.transfers))
	for _, transfer := range m.transfers {
		if options.matches(transfer) {
			results = append(results, cloneTransfer(transfer))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID < b.ID
			}
			if options.Order == SortByUpdatedAsc {
				return a.CreatedAt < b.CreatedAt
			}
			return a.CreatedAt > b.CreatedAt
		}
		if options.Order == SortByUpdatedAsc {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if options.Offset >= len(results) {
		return []*Transfer{}, nil
	}
	results = results[options.Offset:]
	if len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录。
func (m *MemoryStore) Stats(_ context.Context, opts ...ListOption) (Stats, error) {
	options := buildListOptions(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{ByState: make(map[State]int)}
	for _, transfer := range m.transfers {
		if !options.matches(transfer) {
			continue
		}
		stats.add(transfer.State, 1, transfer.UpdatedAt, transfer.UpdatedAt)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
