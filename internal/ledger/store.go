package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SafeGuard-Agent/internal/config"
)

// Store 抽象了转账记录的持久化接口。
type Store interface {
	Create(ctx context.Context, transfer *Transfer) error
	Transition(ctx context.Context, id string, state State, patch Patch) error
	Get(ctx context.Context, id string) (*Transfer, error)
	List(ctx context.Context, opts ...ListOption) ([]*Transfer, error)
	Stats(ctx context.Context, opts ...ListOption) (Stats, error)
	Close() error
}

// Stats 聚合了各状态的记录数量。
type Stats struct {
	Total           int           `json:"total"`
	ByState         map[State]int `json:"by_state"`
	OldestUpdatedAt int64         `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64         `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(state State, count int, oldest, newest int64) {
	if s.ByState == nil {
		s.ByState = make(map[State]int)
	}
	s.Total += count
	s.ByState[state] += count
	if newest > s.NewestUpdatedAt {
		s.NewestUpdatedAt = newest
	}
	if oldest != 0 && (s.OldestUpdatedAt == 0 || oldest < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = oldest
	}
}

// New 根据配置创建存储。
func New(ctx context.Context, cfg config.LedgerConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mysql":
		return NewMySQLStore(ctx, MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("不支持的 ledger 驱动: %s", cfg.Driver)
	}
}
