package llm

import "context"

// 对话消息中的角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次补全请求，消息按顺序发送。
type Request struct {
	Model    string
	Messages []Message
}

// Response 是大模型返回的自由文本。
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage 记录一次调用消耗的 token 数，服务端未返回时为零值。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许用普通函数实现 Client，便于测试桩。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete 实现 Client 接口。
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
