package bot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/queue"
	"SafeGuard-Agent/pkg/logger"
)

// TelegramConfig 描述 Telegram Bot API 的接入参数。
type TelegramConfig struct {
	Token string
	// Endpoint 为空时使用官方地址，格式同 tgbotapi.APIEndpoint。
	Endpoint    string
	PollTimeout int
	Debug       bool
	HTTPClient  *http.Client
}

// Telegram 通过长轮询接收消息，并负责发送回复。
type Telegram struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	log         *slog.Logger
}

// NewTelegram 校验 token 并创建客户端。
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 Telegram bot token")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Telegram 失败")
	}
	api.Debug = cfg.Debug

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	t := &Telegram{api: api, pollTimeout: timeout, log: logger.Named("telegram")}
	t.log.Info("Telegram 机器人已连接", slog.String("username", api.Self.UserName))
	return t, nil
}

// Username 返回机器人的用户名。
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Poll 长轮询新消息并投递到队列，直到上下文取消。
func (t *Telegram) Poll(ctx context.Context, producer queue.Producer) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.pollTimeout
	updates := t.api.GetUpdatesChan(cfg)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			u, ok := fromTelegram(upd)
			if !ok {
				continue
			}
			if err := Publish(ctx, producer, u); err != nil {
				t.log.Error("投递 Telegram 消息失败", slog.Int("update_id", u.ID), slog.Any("error", err))
			}
		}
	}
}

// Send 发送一条回复。
func (t *Telegram) Send(_ context.Context, reply Reply) error {
	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := t.api.Send(msg); err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "发送 Telegram 消息失败")
	}
	return nil
}

// SendText 发送纯文本消息，供运维告警使用。
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	return t.Send(ctx, Reply{ChatID: chatID, Text: text})
}

func fromTelegram(upd tgbotapi.Update) (Update, bool) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return Update{}, false
	}
	u := Update{
		ID:     upd.UpdateID,
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
		Date:   int64(msg.Date),
	}
	if msg.From != nil {
		u.UserID = msg.From.ID
		u.Username = msg.From.UserName
	}
	return u, true
}
