// Package bot turns chat updates into pipeline calls and replies. Updates
// arrive through the inbound queue and are dispatched by command:
// /start, /about, /balance and /send, with any other text forwarded to the
// language model as a question.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"SafeGuard-Agent/internal/agent"
	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/safe"
	"SafeGuard-Agent/pkg/logger"
)

// Update 是一条入站聊天消息，以 JSON 形式经过队列。
type Update struct {
	ID       int    `json:"id"`
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
	Date     int64  `json:"date,omitempty"`
}

// Reply 是发回聊天会话的消息。Text 为空表示无需回复。
type Reply struct {
	ChatID   int64
	Text     string
	Markdown bool
}

// Pipeline 定义调度器所需的 Agent 能力。
type Pipeline interface {
	Transfer(ctx context.Context, req agent.TransferRequest) agent.Outcome
	Ask(ctx context.Context, question string) (string, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Dispatcher 按命令路由入站消息。
type Dispatcher struct {
	pipeline Pipeline
	chain    string
	symbol   string
	allowed  map[int64]struct{}
	log      *slog.Logger
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithNetwork 设置回复中展示的网络名称与代币符号。
func WithNetwork(chain, symbol string) DispatcherOption {
	return func(d *Dispatcher) {
		if c := strings.TrimSpace(chain); c != "" {
			d.chain = c
		}
		if s := strings.TrimSpace(symbol); s != "" {
			d.symbol = s
		}
	}
}

// WithAllowedUsers 限制可以发起 /send 的用户，为空时不限制。
func WithAllowedUsers(ids ...int64) DispatcherOption {
	return func(d *Dispatcher) {
		if len(ids) == 0 {
			return
		}
		d.allowed = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			d.allowed[id] = struct{}{}
		}
	}
}

// NewDispatcher 创建调度器。
func NewDispatcher(pipeline Pipeline, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pipeline: pipeline,
		chain:    "Polygon",
		symbol:   "POL",
		log:      logger.Named("bot"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Handle 处理一条消息并返回回复。每条消息都会完整处理后才返回。
func (d *Dispatcher) Handle(ctx context.Context, u Update) Reply {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return Reply{}
	}
	reply := Reply{ChatID: u.ChatID}
	if !strings.HasPrefix(text, "/") {
		reply.Text = d.ask(ctx, text)
		return reply
	}

	fields := strings.Fields(text)
	command, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch command {
	case "/start":
		reply.Text = startText(d.chain)
	case "/about":
		reply.Text = aboutText(d.chain, d.symbol)
		reply.Markdown = true
	case "/balance":
		reply.Text = d.balance(ctx)
	case "/send":
		reply.Text = d.send(ctx, u, args)
	default:
		d.log.Debug("忽略未知命令", slog.String("command", command), slog.Int64("chat_id", u.ChatID))
		return Reply{}
	}
	return reply
}

func (d *Dispatcher) send(ctx context.Context, u Update, args []string) string {
	if len(args) != 2 {
		return usageText
	}
	if !d.mayTransfer(u.UserID) {
		d.log.Warn("未授权用户尝试转账", slog.Int64("user_id", u.UserID), slog.String("username", u.Username))
		return forbiddenText
	}
	amount, err := safe.ParseAmount(args[0])
	if err != nil {
		return badAmountText
	}

	outcome := d.pipeline.Transfer(ctx, agent.TransferRequest{
		Amount:    amount,
		Recipient: args[1],
		Source:    "telegram",
		ChatID:    u.ChatID,
		UserID:    u.UserID,
		Username:  u.Username,
	})
	switch {
	case outcome.Accepted():
		exec := ""
		if outcome.Executed() {
			exec = outcome.ExecTxHash.Hex()
		}
		return sentText(outcome.SafeTxHash.Hex(), exec)
	case outcome.Declined():
		return declinedText
	default:
		d.log.Error("转账失败",
			slog.String("transfer_id", outcome.TransferID),
			slog.String("state", string(outcome.State)),
			slog.String("error_code", string(xerrors.CodeOf(outcome.Err))),
			slog.Any("error", outcome.Err))
		return failedText
	}
}

func (d *Dispatcher) mayTransfer(userID int64) bool {
	if len(d.allowed) == 0 {
		return true
	}
	_, ok := d.allowed[userID]
	return ok
}

func (d *Dispatcher) balance(ctx context.Context) string {
	amount, err := d.pipeline.Balance(ctx)
	if err != nil {
		d.log.Error("查询余额失败", slog.Any("error", err))
		return balanceErrText
	}
	return balanceText(amount.StringFixed(4), d.symbol)
}

func (d *Dispatcher) ask(ctx context.Context, question string) string {
	answer, err := d.pipeline.Ask(ctx, question)
	if err != nil {
		d.log.Error("问答失败", slog.Any("error", err))
		return askErrText
	}
	return answer
}
