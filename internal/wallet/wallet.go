// Package wallet holds the read-only Safe metadata (owners and approval
// threshold) that the pipeline consults for every transfer. The Safe nonce is
// deliberately absent: it changes between requests and is always read fresh
// from the relay service.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"SafeGuard-Agent/internal/observability/metrics"
	"SafeGuard-Agent/pkg/logger"
)

// Info 是某一时刻的 Safe 元数据快照，创建后不可修改。
type Info struct {
	Address   common.Address
	Owners    []common.Address
	Threshold uint64
	LoadedAt  time.Time
}

// NewInfo 复制 owners 并返回快照。
func NewInfo(address common.Address, owners []common.Address, threshold uint64) (Info, error) {
	if threshold < 1 {
		return Info{}, fmt.Errorf("Safe 阈值必须 >= 1，实际为 %d", threshold)
	}
	cloned := make([]common.Address, len(owners))
	copy(cloned, owners)
	return Info{Address: address, Owners: cloned, Threshold: threshold, LoadedAt: time.Now()}, nil
}

// IsOwner 判断地址是否为 Safe owner。
func (i Info) IsOwner(addr common.Address) bool {
	for _, owner := range i.Owners {
		if owner == addr {
			return true
		}
	}
	return false
}

// SingleSigner 表示只需一个签名即可执行。
func (i Info) SingleSigner() bool {
	return i.Threshold == 1
}

// Loader 从链上读取最新的 Safe 元数据。
type Loader func(ctx context.Context) (Info, error)

// Source 向每次请求提供元数据快照。刷新间隔为 0 时只在启动时加载一次，
// owners 或阈值变更需要重启进程。
type Source struct {
	loader   Loader
	interval time.Duration
	current  atomic.Pointer[Info]
}

// NewSource 立即加载一次元数据。
func NewSource(ctx context.Context, loader Loader, interval time.Duration) (*Source, error) {
	if loader == nil {
		return nil, errors.New("未配置 Safe 元数据加载器")
	}
	info, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载 Safe 元数据失败: %w", err)
	}
	s := &Source{loader: loader, interval: interval}
	s.store(info)
	return s, nil
}

// Static 返回一个不刷新的固定快照来源。
func Static(info Info) *Source {
	s := &Source{}
	s.current.Store(&info)
	return s
}

// Snapshot 返回当前快照的副本。
func (s *Source) Snapshot() Info {
	info := s.current.Load()
	if info == nil {
		return Info{}
	}
	return *info
}

// Refresh 重新加载元数据；失败时保留旧快照。
func (s *Source) Refresh(ctx context.Context) error {
	if s.loader == nil {
		return nil
	}
	info, err := s.loader(ctx)
	if err != nil {
		return err
	}
	s.store(info)
	return nil
}

func (s *Source) store(info Info) {
	s.current.Store(&info)
	metrics.SetWallet(len(info.Owners), info.Threshold)
}

// Run 按配置的间隔刷新，直到上下文取消。间隔为 0 时立即返回。
func (s *Source) Run(ctx context.Context) error {
	if s.interval <= 0 || s.loader == nil {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				logger.Named("wallet").Warn("刷新 Safe 元数据失败，继续使用旧快照", slog.Any("error", err))
				continue
			}
			info := s.Snapshot()
			logger.Named("wallet").Info("Safe 元数据已刷新",
				slog.Int("owners", len(info.Owners)),
				slog.Uint64("threshold", info.Threshold))
		}
	}
}
