package safe

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
)

// NonceSource 返回 Safe 当前的交易 nonce。
type NonceSource interface {
	SafeNonce(ctx context.Context, safe common.Address) (uint64, error)
}

// Builder 负责构建原生代币转账的 Safe 交易。
type Builder struct {
	safe    common.Address
	chainID *big.Int
	nonces  NonceSource
}

// NewBuilder 创建交易构建器。
func NewBuilder(safe common.Address, chainID *big.Int, nonces NonceSource) (*Builder, error) {
	if safe == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Safe 地址不能为空")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链 ID 无效")
	}
	if nonces == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 nonce 来源")
	}
	return &Builder{safe: safe, chainID: new(big.Int).Set(chainID), nonces: nonces}, nil
}

// Safe 返回构建器绑定的 Safe 地址。
func (b *Builder) Safe() common.Address {
	return b.safe
}

// ChainID 返回链 ID 的副本。
func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// Build 在构建前实时获取 nonce，生成一笔 CALL 类型、空 data、零 gas 参数的转账并计算哈希。
func (b *Builder) Build(ctx context.Context, to string, amount decimal.Decimal) (*SafeTx, error) {
	to = strings.TrimSpace(to)
	if !common.IsHexAddress(to) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收款地址格式无效", xerrors.WithMetadata("recipient", to))
	}
	value, err := ToWei(amount)
	if err != nil {
		return nil, err
	}

	nonce, err := b.nonces.SafeNonce(ctx, b.safe)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "获取 Safe nonce 失败")
	}

	tx := &SafeTx{
		Safe:           b.safe,
		ChainID:        new(big.Int).Set(b.chainID),
		To:             common.HexToAddress(to),
		Value:          value,
		Data:           []byte{},
		Operation:      OperationCall,
		SafeTxGas:      new(big.Int),
		BaseGas:        new(big.Int),
		GasPrice:       new(big.Int),
		GasToken:       common.Address{},
		RefundReceiver: common.Address{},
		Nonce:          nonce,
	}
	tx.Hash = tx.ComputeHash()
	return tx, nil
}
