package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/llm"
	"SafeGuard-Agent/internal/safe"
)

const assistantPrompt = "You are a helpful AI wallet bot that knows your own functions and answers user questions clearly."

// Ask 将用户的问题原样转给大模型，不附加任何转账策略。
func (a *Agent) Ask(ctx context.Context, question string) (string, error) {
	if a.llmClient == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "问题不能为空")
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: assistantPrompt}}
	if reference := a.collectKnowledge(question); reference != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: reference})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Complete(llmCtx, llm.Request{Model: a.model, Messages: messages})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return "", xerrors.Wrap(xerrors.CodeRemoteService, err, "大模型推理失败")
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// Balance 返回 Safe 的原生代币余额（以代币为单位）。
func (a *Agent) Balance(ctx context.Context) (decimal.Decimal, error) {
	if a.chain == nil {
		return decimal.Zero, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	info, err := a.Wallet()
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := a.chain.BalanceAt(ctx, info.Address, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return safe.FromWei(wei), nil
}

// collectKnowledge 从知识库中检索相关内容以供大模型参考。
func (a *Agent) collectKnowledge(question string) string {
	if a.knowledge == nil {
		return ""
	}
	snippets := a.knowledge.Query(question)
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reference notes about this bot:")
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", snippet.Title, snippet.Content)
	}
	return b.String()
}
