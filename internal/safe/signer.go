package safe

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SafeGuard-Agent/internal/errors"
)

// SignatureLength 是 r ‖ s ‖ v 的字节长度。
const SignatureLength = 65

// Signature 是对 Safe 交易哈希的 ECDSA 签名。
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// Bytes 按 r ‖ s ‖ v 的顺序返回 65 字节签名。
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

// Hex 返回带 0x 前缀的十六进制签名。
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s.Bytes())
}

// Recover 从签名恢复签名者地址。
func (s Signature) Recover(hash common.Hash) (common.Address, error) {
	raw := s.Bytes()
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Owner 持有一个 Safe owner 的私钥。私钥不会出现在日志或任何出站请求中。
type Owner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewOwner 包装已有私钥。
func NewOwner(key *ecdsa.PrivateKey) *Owner {
	return &Owner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// ParseOwnerKey 解析十六进制私钥，允许 0x 前缀。
func ParseOwnerKey(raw string) (*Owner, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		// 不回显原始输入。
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Safe owner 私钥格式无效")
	}
	return NewOwner(key), nil
}

// Address 返回 owner 的地址。
func (o *Owner) Address() common.Address {
	return o.address
}

// String 只输出地址。
func (o *Owner) String() string {
	return o.address.Hex()
}

// Sign 对原始 32 字节哈希签名，不添加任何消息前缀。
func (o *Owner) Sign(hash common.Hash) (Signature, error) {
	return SignHash(hash, o.key)
}

// SignTx 使用 owner 私钥签署一笔链上交易。
func (o *Owner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), o.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, "签署链上交易失败")
	}
	return signed, nil
}

// SignHash 使用 secp256k1 对哈希签名，v 取 27/28 以符合 Safe 的 ECDSA 签名格式。
func SignHash(hash common.Hash, key *ecdsa.PrivateKey) (Signature, error) {
	if key == nil {
		return Signature{}, xerrors.New(xerrors.CodeSigningFailure, "缺少签名私钥")
	}
	raw, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return Signature{}, xerrors.Wrap(xerrors.CodeSigningFailure, err, "签名失败")
	}
	if len(raw) != SignatureLength {
		return Signature{}, xerrors.New(xerrors.CodeSigningFailure, fmt.Sprintf("签名长度异常: %d", len(raw)))
	}
	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64] + 27
	return sig, nil
}
