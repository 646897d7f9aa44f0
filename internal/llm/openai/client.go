// Package openai 实现 OpenAI 兼容的 Chat Completions 客户端。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/llm"
	"SafeGuard-Agent/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4"
	maxErrorBody     = 2048
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout 为 0 时不设置 HTTP 超时，调用方可通过 context 控制。
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的补全接口。
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	return &Client{
		apiKey:     apiKey,
		endpoint:   baseURL + "/chat/completions",
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.Named("openai"),
	}, nil
}

// Model 返回默认使用的模型名称。
func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete 发送一次补全请求，返回首个 choice 的原始文本，不做任何裁剪。
// 超时归类为 TIMEOUT，其余失败归类为 REMOTE_SERVICE。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "OpenAI 请求缺少消息")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	payload, err := json.Marshal(chatRequest{Model: model, Messages: req.Messages})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 OpenAI 请求失败")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "请求 OpenAI 超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRemoteService, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeRemoteService, "OpenAI 响应中没有有效的 choices")
	}
	if decoded.Model == "" {
		decoded.Model = model
	}

	c.log.Debug("补全完成",
		slog.String("model", decoded.Model),
		slog.String("finish_reason", decoded.Choices[0].FinishReason),
		slog.Int("total_tokens", decoded.Usage.TotalTokens),
		slog.Duration("elapsed", time.Since(start)))

	return &llm.Response{
		Content: decoded.Choices[0].Message.Content,
		Model:   decoded.Model,
		Usage:   decoded.Usage,
	}, nil
}

// statusError 尽量从 OpenAI 的错误体中提取可读信息。
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	var parsed apiError
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		detail = parsed.Error.Message
	}
	code := xerrors.CodeRemoteService
	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		code = xerrors.CodeTimeout
	}
	return xerrors.New(code, fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, detail),
		xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
		xerrors.WithMetadata("error_type", parsed.Error.Type))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var _ llm.Client = (*Client)(nil)
