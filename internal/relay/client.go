// Package relay talks to the Safe Transaction Service, which stores proposed
// multisig transactions and their owner signatures until the approval
// threshold is met.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/safe"
	"SafeGuard-Agent/pkg/logger"
)

// DefaultBaseURL 是 Polygon 主网的 Safe 交易服务地址。
const DefaultBaseURL = "https://safe-transaction-polygon.safe.global/api/v1"

const maxBodyBytes = 64 << 10

// Config 描述中继服务的访问参数。
type Config struct {
	BaseURL string
	// Timeout 为 0 时不设置超时。
	Timeout time.Duration
	Origin  string
}

// Client 是 Safe 交易服务的 HTTP 客户端。
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// NewClient 创建中继客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		origin:     cfg.Origin,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Proposal 是提交给中继服务的多签交易提案。
type Proposal struct {
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Operation               uint8  `json:"operation"`
	SafeTxGas               string `json:"safeTxGas"`
	BaseGas                 string `json:"baseGas"`
	GasPrice                string `json:"gasPrice"`
	GasToken                string `json:"gasToken"`
	RefundReceiver          string `json:"refundReceiver"`
	Nonce                   uint64 `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
	Origin                  string `json:"origin,omitempty"`
}

// NewProposal 将已签名的 Safe 交易展开为提案。
func NewProposal(tx *safe.SafeTx, sig safe.Signature, sender common.Address) Proposal {
	return Proposal{
		To:                      tx.To.Hex(),
		Value:                   decimalString(tx.Value),
		Data:                    "0x" + common.Bytes2Hex(tx.Data),
		Operation:               uint8(tx.Operation),
		SafeTxGas:               decimalString(tx.SafeTxGas),
		BaseGas:                 decimalString(tx.BaseGas),
		GasPrice:                decimalString(tx.GasPrice),
		GasToken:                tx.GasToken.Hex(),
		RefundReceiver:          tx.RefundReceiver.Hex(),
		Nonce:                   tx.Nonce,
		ContractTransactionHash: tx.Hash.Hex(),
		Sender:                  sender.Hex(),
		Signature:               sig.Hex(),
	}
}

// SafeNonce 查询 Safe 当前的 nonce，每次构建交易前都会调用。
func (c *Client) SafeNonce(ctx context.Context, safeAddr common.Address) (uint64, error) {
	var payload struct {
		Nonce json.RawMessage `json:"nonce"`
	}
	endpoint := fmt.Sprintf("%s/safes/%s/", c.baseURL, safeAddr.Hex())
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRemoteService, err, "请求中继服务失败")
	}
	if status < 200 || status >= 300 {
		return 0, xerrors.New(xerrors.CodeRemoteService, fmt.Sprintf("中继服务返回状态码 %d", status),
			xerrors.WithMetadata("status", strconv.Itoa(status)),
			xerrors.WithMetadata("body", string(body)))
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRemoteService, err, "解析 Safe 信息失败")
	}
	nonce, err := parseNonce(payload.Nonce)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRemoteService, err, "Safe nonce 无效")
	}
	return nonce, nil
}

// Propose 提交一次提案。任何非 2xx 响应都视为拒绝，且不会重试。
func (c *Client) Propose(ctx context.Context, safeAddr common.Address, proposal Proposal) error {
	if proposal.Origin == "" {
		proposal.Origin = c.origin
	}
	encoded, err := json.Marshal(proposal)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRelayRejected, err, "序列化提案失败")
	}
	endpoint := fmt.Sprintf("%s/safes/%s/multisig-transactions/", c.baseURL, safeAddr.Hex())
	status, body, err := c.do(ctx, http.MethodPost, endpoint, encoded)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRelayRejected, err, "提交提案失败")
	}
	if status < 200 || status >= 300 {
		return xerrors.New(xerrors.CodeRelayRejected, fmt.Sprintf("中继服务拒绝提案，状态码 %d", status),
			xerrors.WithMetadata("status", strconv.Itoa(status)),
			xerrors.WithMetadata("body", string(body)))
	}
	logger.Named("relay").Info("提案已提交",
		slog.String("safe", safeAddr.Hex()),
		slog.String("safe_tx_hash", proposal.ContractTransactionHash),
		slog.Uint64("nonce", proposal.Nonce),
		slog.Int("status", status))
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return resp.StatusCode, body, nil
}

// parseNonce 兼容数字与字符串两种 nonce 表示。
func parseNonce(raw json.RawMessage) (uint64, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return 0, errors.New("响应缺少 nonce 字段")
	}
	return strconv.ParseUint(text, 10, 64)
}

func decimalString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
