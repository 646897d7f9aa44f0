package safe

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Operation 对应 Safe 合约的调用类型。
type Operation uint8

const (
	OperationCall Operation = 0
	// OperationDelegateCall 仅用于哈希计算，构建器不会生成该类型。
	OperationDelegateCall Operation = 1
)

var (
	// EIP712Domain(uint256 chainId,address verifyingContract)，Safe >= 1.3.0。
	domainSeparatorTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	safeTxTypeHash          = crypto.Keccak256Hash([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
)

// SafeTx 是一笔待签名的 Safe 多签交易。由 Builder 构建后不可修改。
type SafeTx struct {
	Safe           common.Address
	ChainID        *big.Int
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          uint64
	Hash           common.Hash
}

// DomainSeparator 计算 Safe 钱包在指定链上的 EIP-712 域分隔符。
func DomainSeparator(chainID *big.Int, safe common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainSeparatorTypeHash.Bytes(),
		uintWord(chainID),
		addressWord(safe),
	)
}

// ComputeHash 按 Safe 合约的 getTransactionHash 规则计算交易哈希。
// 所有字段、nonce 以及域分隔符都参与计算。
func (tx *SafeTx) ComputeHash() common.Hash {
	structHash := crypto.Keccak256Hash(
		safeTxTypeHash.Bytes(),
		addressWord(tx.To),
		uintWord(tx.Value),
		crypto.Keccak256(tx.Data),
		uintWord(new(big.Int).SetUint64(uint64(tx.Operation))),
		uintWord(tx.SafeTxGas),
		uintWord(tx.BaseGas),
		uintWord(tx.GasPrice),
		addressWord(tx.GasToken),
		addressWord(tx.RefundReceiver),
		uintWord(new(big.Int).SetUint64(tx.Nonce)),
	)
	domain := DomainSeparator(tx.ChainID, tx.Safe)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain.Bytes(), structHash.Bytes())
}

func uintWord(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func bigOrZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}
