package safe

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/wallet"
)

// safeABIJSON 只包含本服务用到的 Safe 合约方法。
const safeABIJSON = `[
  {"type":"function","name":"execTransaction","stateMutability":"payable","inputs":[
    {"name":"to","type":"address"},
    {"name":"value","type":"uint256"},
    {"name":"data","type":"bytes"},
    {"name":"operation","type":"uint8"},
    {"name":"safeTxGas","type":"uint256"},
    {"name":"baseGas","type":"uint256"},
    {"name":"gasPrice","type":"uint256"},
    {"name":"gasToken","type":"address"},
    {"name":"refundReceiver","type":"address"},
    {"name":"signatures","type":"bytes"}
  ],"outputs":[{"name":"success","type":"bool"}]},
  {"type":"function","name":"getOwners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var safeABI = mustParseABI(safeABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析 Safe ABI 失败: %v", err))
	}
	return parsed
}

// PackExecTransaction 对 execTransaction 调用进行 ABI 编码。
func PackExecTransaction(tx *SafeTx, signatures []byte) ([]byte, error) {
	if tx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 Safe 交易")
	}
	data, err := safeABI.Pack("execTransaction",
		tx.To,
		bigOrZero(tx.Value),
		nonNilBytes(tx.Data),
		uint8(tx.Operation),
		bigOrZero(tx.SafeTxGas),
		bigOrZero(tx.BaseGas),
		bigOrZero(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		signatures,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailed, err, "编码 execTransaction 失败")
	}
	return data, nil
}

// ContractCaller 是只读合约调用所需的最小接口，ethclient 与模拟后端均满足。
type ContractCaller interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReadWalletInfo 从链上读取 Safe 的 owners 与阈值。
func ReadWalletInfo(ctx context.Context, caller ContractCaller, safe common.Address) (wallet.Info, error) {
	ownersOut, err := callView(ctx, caller, safe, "getOwners")
	if err != nil {
		return wallet.Info{}, err
	}
	owners, ok := ownersOut[0].([]common.Address)
	if !ok {
		return wallet.Info{}, xerrors.New(xerrors.CodeChainFailure, "getOwners 返回值类型异常")
	}

	thresholdOut, err := callView(ctx, caller, safe, "getThreshold")
	if err != nil {
		return wallet.Info{}, err
	}
	threshold, ok := thresholdOut[0].(*big.Int)
	if !ok || !threshold.IsUint64() {
		return wallet.Info{}, xerrors.New(xerrors.CodeChainFailure, "getThreshold 返回值类型异常")
	}

	info, err := wallet.NewInfo(safe, owners, threshold.Uint64())
	if err != nil {
		return wallet.Info{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "Safe 元数据无效")
	}
	return info, nil
}

func callView(ctx context.Context, caller ContractCaller, safe common.Address, method string) ([]any, error) {
	if caller == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	input, err := safeABI.Pack(method)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "编码 "+method+" 失败")
	}
	raw, err := caller.CallContract(ctx, gethcore.CallMsg{To: &safe, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 "+method+" 失败")
	}
	out, err := safeABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		if err == nil {
			err = fmt.Errorf("empty result")
		}
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "解码 "+method+" 失败", xerrors.WithMetadata("safe", safe.Hex()))
	}
	return out, nil
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
