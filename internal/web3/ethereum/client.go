package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
}

// backend is the go-ethereum surface shared by ethclient.Client and the
// simulated backend client.
type backend interface {
	gethcore.ChainStateReader
	gethcore.ContractCaller
	gethcore.TransactionSender
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   backend
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接区块链节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend client for testing purposes.
func NewSimulatedClient(name string, sim backend) *Client {
	return &Client{name: name, backend: sim}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

func (c *Client) chain() (backend, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端已关闭")
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	b, err := c.chain()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取最新区块失败")
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: toHexBig(head.Number),
		BaseFee:     toHexBig(head.BaseFee),
	}, nil
}

// BalanceAt returns the native balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	balance, err := b.BalanceAt(ctx, account, blockNumber)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败", xerrors.WithMetadata("account", account.Hex()))
	}
	return balance, nil
}

// CallContract executes a read-only eth_call.
func (c *Client) CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	return b.CallContract(ctx, call, blockNumber)
}

// PendingNonceAt returns the account nonce including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b, err := c.chain()
	if err != nil {
		return 0, err
	}
	return b.PendingNonceAt(ctx, account)
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	return b.ChainID(ctx)
}

// HeaderByNumber returns the header for number, or the latest one when nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	return b.HeaderByNumber(ctx, number)
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	b, err := c.chain()
	if err != nil {
		return nil, err
	}
	return b.SuggestGasTipCap(ctx)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	b, err := c.chain()
	if err != nil {
		return err
	}
	return b.SendTransaction(ctx, tx)
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
