package safe

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
)

var (
	testSafe      = common.HexToAddress("0x5afe00000000000000000000000000000000cafe")
	testRecipient = "0x1111111111111111111111111111111111111111"
	polygonChain  = big.NewInt(137)
)

type fixedNonce struct {
	nonce uint64
	err   error
	calls int
}

func (f *fixedNonce) SafeNonce(context.Context, common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func TestBuildProducesCanonicalTransfer(t *testing.T) {
	nonces := &fixedNonce{nonce: 7}
	builder, err := NewBuilder(testSafe, polygonChain, nonces)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	tx, err := builder.Build(context.Background(), testRecipient, decimal.RequireFromString("1.5"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if nonces.calls != 1 {
		t.Fatalf("expected one nonce lookup, got %d", nonces.calls)
	}
	if tx.Nonce != 7 {
		t.Fatalf("unexpected nonce %d", tx.Nonce)
	}
	wantWei, _ := new(big.Int).SetString("1500000000000000000", 10)
	if tx.Value.Cmp(wantWei) != 0 {
		t.Fatalf("unexpected value %s", tx.Value)
	}
	if len(tx.Data) != 0 || tx.Operation != OperationCall {
		t.Fatalf("expected empty CALL transaction")
	}
	if tx.SafeTxGas.Sign() != 0 || tx.BaseGas.Sign() != 0 || tx.GasPrice.Sign() != 0 {
		t.Fatalf("expected zero gas fields")
	}
	if tx.GasToken != (common.Address{}) || tx.RefundReceiver != (common.Address{}) {
		t.Fatalf("expected zero gas token and refund receiver")
	}
	if tx.Hash != tx.ComputeHash() {
		t.Fatalf("stored hash does not match computed hash")
	}
}

func TestHashIsDeterministicAndCoversNonce(t *testing.T) {
	build := func(nonce uint64) *SafeTx {
		builder, err := NewBuilder(testSafe, polygonChain, &fixedNonce{nonce: nonce})
		if err != nil {
			t.Fatalf("new builder: %v", err)
		}
		tx, err := builder.Build(context.Background(), testRecipient, decimal.RequireFromString("2"))
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		return tx
	}

	a, b := build(3), build(3)
	if a.Hash != b.Hash {
		t.Fatalf("identical inputs produced different hashes: %s vs %s", a.Hash.Hex(), b.Hash.Hex())
	}
	if c := build(4); c.Hash == a.Hash {
		t.Fatalf("nonce change must change the hash")
	}

	other := *a
	other.ChainID = big.NewInt(1)
	if other.ComputeHash() == a.Hash {
		t.Fatalf("chain id must be part of the domain")
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	nonces := &fixedNonce{}
	builder, err := NewBuilder(testSafe, polygonChain, nonces)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if _, err := builder.Build(context.Background(), "0x123", decimal.NewFromInt(1)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for short address, got %v", err)
	}
	if _, err := builder.Build(context.Background(), testRecipient, decimal.Zero); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for zero amount, got %v", err)
	}
	if nonces.calls != 0 {
		t.Fatalf("invalid input must not reach the relay")
	}
}

func TestBuildWrapsNonceFailure(t *testing.T) {
	builder, err := NewBuilder(testSafe, polygonChain, &fixedNonce{err: errors.New("status 500")})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	_, err = builder.Build(context.Background(), testRecipient, decimal.NewFromInt(1))
	if !xerrors.HasCode(err, xerrors.CodeRemoteService) {
		t.Fatalf("expected remote service error, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]bool{
		"1":         true,
		" 0.5 ":     true,
		"0":         false,
		"-3":        false,
		"abc":       false,
		"1e-19":     false,
		"0.0000001": true,
		"2.5e3":     true,
		"1e29":      true,
		"1e30":      false,
	}
	for raw, ok := range cases {
		_, err := ParseAmount(raw)
		if ok && err != nil {
			t.Fatalf("ParseAmount(%q) unexpected error: %v", raw, err)
		}
		if !ok && err == nil {
			t.Fatalf("ParseAmount(%q) expected error", raw)
		}
	}
	if got := FromWei(big.NewInt(1_250_000_000_000_000_000)).StringFixed(4); got != "1.2500" {
		t.Fatalf("unexpected FromWei result %s", got)
	}
}

func TestParseAmountRejectsExtremeExponentsQuickly(t *testing.T) {
	for _, raw := range []string{"1e60000000", "1e-60000000", "9e2147483647", "1" + strings.Repeat("0", 80)} {
		start := time.Now()
		_, err := ParseAmount(raw)
		if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
			t.Fatalf("ParseAmount(%.20q) expected invalid argument, got %v", raw, err)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Fatalf("ParseAmount(%.20q) took %s", raw, elapsed)
		}
	}
	if _, err := ToWei(decimal.New(1, 60_000_000)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("ToWei must bound the exponent, got %v", err)
	}
}

func TestSignatureRecoversOwner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := NewOwner(key)
	hash := crypto.Keccak256Hash([]byte("safe tx"))

	sig, err := owner.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig.Bytes()) != SignatureLength {
		t.Fatalf("expected %d byte signature, got %d", SignatureLength, len(sig.Bytes()))
	}
	if sig.V != 27 && sig.V != 28 {
		t.Fatalf("unexpected v %d", sig.V)
	}
	if !strings.HasPrefix(sig.Hex(), "0x") || len(sig.Hex()) != 2+2*SignatureLength {
		t.Fatalf("unexpected hex %s", sig.Hex())
	}
	recovered, err := sig.Recover(hash)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != owner.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), owner.Address().Hex())
	}
}

func TestParseOwnerKeyHidesInput(t *testing.T) {
	_, err := ParseOwnerKey("0xnot-a-key-secretvalue")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "secretvalue") {
		t.Fatalf("error leaks key material: %v", err)
	}
	if owner := mustOwner(t); owner.String() != owner.Address().Hex() {
		t.Fatalf("String must only print the address")
	}
}

func TestPackExecTransactionSelector(t *testing.T) {
	builder, _ := NewBuilder(testSafe, polygonChain, &fixedNonce{nonce: 1})
	tx, err := builder.Build(context.Background(), testRecipient, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := PackExecTransaction(tx, make([]byte, SignatureLength))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	selector := crypto.Keccak256([]byte("execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)"))[:4]
	if string(data[:4]) != string(selector) {
		t.Fatalf("unexpected selector %x", data[:4])
	}
}

type viewCaller struct {
	owners    []common.Address
	threshold *big.Int
	err       error
}

func (v viewCaller) CallContract(_ context.Context, call gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if v.err != nil {
		return nil, v.err
	}
	method, err := safeABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getOwners":
		return method.Outputs.Pack(v.owners)
	case "getThreshold":
		return method.Outputs.Pack(v.threshold)
	}
	return nil, errors.New("unexpected method " + method.Name)
}

func TestReadWalletInfo(t *testing.T) {
	owners := []common.Address{common.HexToAddress("0xa1"), common.HexToAddress("0xb2")}
	info, err := ReadWalletInfo(context.Background(), viewCaller{owners: owners, threshold: big.NewInt(2)}, testSafe)
	if err != nil {
		t.Fatalf("read wallet info: %v", err)
	}
	if info.Threshold != 2 || len(info.Owners) != 2 || !info.IsOwner(owners[1]) {
		t.Fatalf("unexpected info %+v", info)
	}

	_, err = ReadWalletInfo(context.Background(), viewCaller{err: errors.New("rpc down")}, testSafe)
	if !xerrors.HasCode(err, xerrors.CodeChainFailure) {
		t.Fatalf("expected chain failure, got %v", err)
	}
}

func TestExecutorBroadcastsOnSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := mustOwner(t)
	backend := simulated.NewBackend(types.GenesisAlloc{
		owner.Address(): {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))},
	}, simulated.WithBlockGasLimit(30_000_000))
	t.Cleanup(func() { _ = backend.Close() })
	client := backend.Client()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	builder, err := NewBuilder(testSafe, chainID, &fixedNonce{nonce: 0})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	tx, err := builder.Build(ctx, testRecipient, decimal.RequireFromString("0.1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sig, err := owner.Sign(tx.Hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	executor := NewExecutor(client, owner, 0)
	hash, err := executor.Execute(ctx, tx, sig)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(hash.Hex(), "0x") || hash == (common.Hash{}) {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}

	backend.Commit()
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}
}

type failingBackend struct{ ChainBackend }

func (failingBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, errors.New("rpc down")
}

func TestExecutorWrapsBackendFailure(t *testing.T) {
	builder, _ := NewBuilder(testSafe, polygonChain, &fixedNonce{nonce: 1})
	tx, _ := builder.Build(context.Background(), testRecipient, decimal.NewFromInt(1))
	owner := mustOwner(t)
	sig, _ := owner.Sign(tx.Hash)

	_, err := NewExecutor(failingBackend{}, owner, 0).Execute(context.Background(), tx, sig)
	if !xerrors.HasCode(err, xerrors.CodeExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
}

func mustOwner(t *testing.T) *Owner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewOwner(key)
}
