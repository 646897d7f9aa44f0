package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"SafeGuard-Agent/internal/agent"
	"SafeGuard-Agent/internal/bot"
	"SafeGuard-Agent/internal/config"
	"SafeGuard-Agent/internal/guard"
	"SafeGuard-Agent/internal/knowledge"
	"SafeGuard-Agent/internal/ledger"
	"SafeGuard-Agent/internal/llm/openai"
	"SafeGuard-Agent/internal/observability/alerting"
	"SafeGuard-Agent/internal/relay"
	"SafeGuard-Agent/internal/safe"
	"SafeGuard-Agent/internal/wallet"
	"SafeGuard-Agent/internal/web3/ethereum"
	"SafeGuard-Agent/pkg/logger"
)

// runtime 汇总一次进程运行所需的全部组件。
type runtime struct {
	cfg      *config.Config
	chain    *ethereum.Client
	wallet   *wallet.Source
	ledger   ledger.Store
	agent    *agent.Agent
	telegram *bot.Telegram
}

// setup 读取配置、初始化日志并装配流水线。withBot 为 true 时同时连接 Telegram。
func setup(ctx context.Context, withBot bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(withBot); err != nil {
		return nil, fmt.Errorf("配置不完整: %w", err)
	}
	if err := initLogger(cfg.Log); err != nil {
		return nil, err
	}
	log := logger.Named("safeguardd")

	llmClient, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: cfg.LLM.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	if !common.IsHexAddress(cfg.Wallet.SafeAddress) {
		return nil, fmt.Errorf("Safe 地址格式无效: %s", cfg.Wallet.SafeAddress)
	}
	safeAddr := common.HexToAddress(cfg.Wallet.SafeAddress)
	owner, err := safe.ParseOwnerKey(cfg.Wallet.OwnerKey)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.close()
		}
	}()

	rt.chain, err = ethereum.NewClient(ctx, ethereum.Config{Name: cfg.Network.Name, RPCURL: cfg.Network.RPCURL})
	if err != nil {
		return nil, err
	}
	chainID, err := withTimeout(ctx, cfg.Network.Timeout(), rt.chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if want := cfg.Network.ChainID; want != 0 && (!chainID.IsUint64() || chainID.Uint64() != want) {
		return nil, fmt.Errorf("RPC 节点的链 ID %s 与配置的 %d 不一致", chainID, want)
	}

	relayClient := relay.NewClient(relay.Config{
		BaseURL: cfg.Network.RelayURL,
		Timeout: cfg.Network.Timeout(),
		Origin:  cfg.Network.Origin,
	})
	builder, err := safe.NewBuilder(safeAddr, chainID, relayClient)
	if err != nil {
		return nil, err
	}

	loader := func(ctx context.Context) (wallet.Info, error) {
		return safe.ReadWalletInfo(ctx, rt.chain, safeAddr)
	}
	refresh := time.Duration(cfg.Wallet.RefreshInterval) * time.Second
	rt.wallet, err = wallet.NewSource(ctx, loader, refresh)
	if err != nil {
		return nil, err
	}
	info := rt.wallet.Snapshot()
	if !info.IsOwner(owner.Address()) {
		log.Warn("签名账户不是 Safe owner，中继服务将拒绝提案", slog.String("owner", owner.String()))
	}

	rt.ledger, err = ledger.New(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if withBot {
		rt.telegram, err = bot.NewTelegram(bot.TelegramConfig{
			Token:       cfg.Bot.Token,
			PollTimeout: cfg.Bot.PollTimeout,
			Debug:       cfg.Bot.Debug,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Bot.OperatorChatID != 0 {
			notifiers = append(notifiers, &alerting.ChatNotifier{Sender: rt.telegram, ChatID: cfg.Bot.OperatorChatID})
		}
	}
	if hook := strings.TrimSpace(cfg.Alerting.WebhookURL); hook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: hook, Client: &http.Client{Timeout: 10 * time.Second}})
	}

	provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
	if err != nil {
		return nil, err
	}
	log.Info("知识库已加载", slog.Int("entries", provider.Len()))

	rt.agent = agent.New(agent.Components{
		Guard:    guard.New(llmClient, guard.WithModel(llmClient.Model()), guard.WithSymbol(cfg.Network.Symbol)),
		Builder:  builder,
		Signer:   owner,
		Relay:    relayClient,
		Executor: safe.NewExecutor(rt.chain, owner, cfg.Network.ExecGasLimit),
		Wallet:   rt.wallet,
		Chain:    rt.chain,
		LLM:      llmClient,
	},
		agent.WithLedger(rt.ledger),
		agent.WithAlerts(alerting.NewFanout(notifiers...)),
		agent.WithKnowledgeProvider(provider),
		agent.WithModel(llmClient.Model()),
		agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()),
	)

	log.Info("流水线已就绪",
		slog.String("network", cfg.Network.Name),
		slog.String("chain_id", chainID.String()),
		slog.String("safe", safeAddr.Hex()),
		slog.String("owner", owner.String()),
		slog.Uint64("threshold", info.Threshold),
		slog.Int("owners", len(info.Owners)),
		slog.String("ledger", cfg.Ledger.Driver))
	ok = true
	return rt, nil
}

func (rt *runtime) close() {
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			logger.L().Warn("关闭 ledger 失败", slog.Any("error", err))
		}
	}
	if rt.chain != nil {
		rt.chain.Close()
	}
	_ = logger.Sync()
}

func initLogger(cfg config.LogConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.AuditPath != "",
			Path:    cfg.AuditPath,
		},
	})
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

// ignoreCanceled 把正常关停产生的取消错误视为成功。
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
