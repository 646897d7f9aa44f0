package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	safeAddr = common.HexToAddress("0x5afe000000000000000000000000000000000001")
	ownerA   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerB   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestNewInfoRejectsZeroThreshold(t *testing.T) {
	if _, err := NewInfo(safeAddr, []common.Address{ownerA}, 0); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	owners := []common.Address{ownerA}
	info, err := NewInfo(safeAddr, owners, 1)
	if err != nil {
		t.Fatalf("new info: %v", err)
	}
	owners[0] = ownerB
	if !info.IsOwner(ownerA) || info.IsOwner(ownerB) {
		t.Fatalf("snapshot shares caller slice")
	}
	if !info.SingleSigner() {
		t.Fatalf("threshold 1 should be single signer")
	}
}

func TestSourceRefreshKeepsOldSnapshotOnError(t *testing.T) {
	calls := 0
	loader := func(context.Context) (Info, error) {
		calls++
		switch calls {
		case 1:
			return NewInfo(safeAddr, []common.Address{ownerA}, 1)
		case 2:
			return Info{}, errors.New("rpc down")
		default:
			return NewInfo(safeAddr, []common.Address{ownerA, ownerB}, 2)
		}
	}

	src, err := NewSource(context.Background(), loader, 0)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if src.Snapshot().Threshold != 1 {
		t.Fatalf("unexpected initial threshold")
	}
	if err := src.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if src.Snapshot().Threshold != 1 {
		t.Fatalf("failed refresh must keep previous snapshot")
	}
	if err := src.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := src.Snapshot(); got.Threshold != 2 || len(got.Owners) != 2 {
		t.Fatalf("unexpected snapshot after refresh: %+v", got)
	}
}

func TestRunWithoutIntervalReturnsImmediately(t *testing.T) {
	src := Static(Info{Address: safeAddr, Threshold: 1})
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
