// Package guard asks a language model for a yes/no verdict on a proposed
// transfer. The verdict only gates the transfer; model output never reaches
// the transaction content.
package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/llm"
)

// Decision 是守卫对一次转账的判定。
type Decision int

const (
	Deny Decision = iota
	Approve
)

func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "deny"
}

const systemPrompt = "You are a secure crypto wallet AI."

const policyTemplate = `
You are a blockchain wallet AI guard.
A user wants to send %s %s to %s.

Reply with only "yes" or "no" based on:
- If amount is ≤ 5 %s and the address does not look suspicious → say "yes"
- If amount is greater than 5 %s, or the address looks suspicious → say "no"
- Addresses are suspicious if they are short, zero addresses, or match known blacklists.
`

// Guard 通过大模型评估转账请求。
type Guard struct {
	client llm.Client
	model  string
	symbol string
}

// Option 定义可选配置。
type Option func(*Guard)

// WithModel 覆盖请求使用的模型。
func WithModel(model string) Option {
	return func(g *Guard) {
		g.model = strings.TrimSpace(model)
	}
}

// WithSymbol 设置提示词中的原生代币符号。
func WithSymbol(symbol string) Option {
	return func(g *Guard) {
		if s := strings.TrimSpace(symbol); s != "" {
			g.symbol = s
		}
	}
}

// New 创建 Guard。
func New(client llm.Client, opts ...Option) *Guard {
	g := &Guard{client: client, symbol: "POL"}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Prompt 返回针对给定金额与收款地址的固定策略提示词。
func (g *Guard) Prompt(amount decimal.Decimal, recipient string) string {
	return fmt.Sprintf(policyTemplate, amount.String(), g.symbol, recipient, g.symbol, g.symbol)
}

// Evaluate 向大模型发起一次调用并解析判定。
// 调用失败时返回 Deny 以及 GUARD_UNAVAILABLE 错误，调用方不得放行。
func (g *Guard) Evaluate(ctx context.Context, amount decimal.Decimal, recipient string) (Decision, error) {
	if g == nil || g.client == nil {
		return Deny, xerrors.New(xerrors.CodeGuardUnavailable, "未配置大模型客户端")
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: g.Prompt(amount, recipient)},
		},
	})
	if err != nil {
		return Deny, xerrors.Wrap(xerrors.CodeGuardUnavailable, err, "守卫调用大模型失败")
	}
	if resp == nil {
		return Deny, nil
	}
	return ParseVerdict(resp.Content), nil
}

// ParseVerdict 只有当首个非空行忽略大小写等于 "yes" 时才放行。
func ParseVerdict(reply string) Decision {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Deny
	}
	first, _, _ := strings.Cut(reply, "\n")
	if strings.ToLower(strings.TrimSpace(first)) == "yes" {
		return Approve
	}
	return Deny
}
