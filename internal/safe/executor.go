package safe

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/pkg/logger"
)

// DefaultExecGasLimit 是 execTransaction 的默认 gas 上限。
const DefaultExecGasLimit uint64 = 300000

// ChainBackend 是广播 execTransaction 所需的链访问接口。
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Executor 在阈值为 1 时由 owner 直接把 Safe 交易发送上链。
type Executor struct {
	backend  ChainBackend
	owner    *Owner
	gasLimit uint64
}

// NewExecutor 创建执行器，gasLimit 为 0 时使用默认值。
func NewExecutor(backend ChainBackend, owner *Owner, gasLimit uint64) *Executor {
	if gasLimit == 0 {
		gasLimit = DefaultExecGasLimit
	}
	return &Executor{backend: backend, owner: owner, gasLimit: gasLimit}
}

// Execute 编码 execTransaction，构建 EIP-1559 交易并广播，返回链上交易哈希。
// 只等待广播被节点接受，不等待打包。
func (e *Executor) Execute(ctx context.Context, tx *SafeTx, sig Signature) (common.Hash, error) {
	if e == nil || e.backend == nil || e.owner == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	data, err := PackExecTransaction(tx, sig.Bytes())
	if err != nil {
		return common.Hash{}, err
	}

	from := e.owner.Address()
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, e.fail(err, "获取账户 nonce 失败")
	}
	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, e.fail(err, "获取链 ID 失败")
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, e.fail(err, "获取最新区块失败")
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, e.fail(err, "获取小费建议失败")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	to := tx.Safe
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       e.gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := e.owner.SignTx(unsigned, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, e.fail(err, "广播 execTransaction 失败")
	}

	logger.Named("executor").Info("execTransaction 已广播",
		slog.String("safe_tx_hash", tx.Hash.Hex()),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("account_nonce", nonce))
	return signed.Hash(), nil
}

func (e *Executor) fail(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeExecutionFailed, err, message)
}
