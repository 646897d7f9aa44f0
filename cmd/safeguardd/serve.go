package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"SafeGuard-Agent/internal/api"
	"SafeGuard-Agent/internal/bot"
	"SafeGuard-Agent/internal/observability/metrics"
	"SafeGuard-Agent/internal/queue"
	"SafeGuard-Agent/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 Telegram 机器人与运维接口",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	rt, err := setup(parent, true)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return err
	}
	defer q.Close()

	dispatcher := bot.NewDispatcher(rt.agent,
		bot.WithNetwork(cfg.Network.Name, cfg.Network.Symbol),
		bot.WithAllowedUsers(cfg.Bot.AllowedUserIDs...))
	processor := bot.NewProcessor(q, dispatcher, rt.telegram, bot.WithWorkerCount(cfg.Queue.Workers))
	server := api.NewServer(cfg.Server.Address, rt.ledger,
		api.WithToken(cfg.Server.Token),
		api.WithWallet(rt.wallet))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ignoreCanceled(fn(ctx)); err != nil {
				errCh <- fmt.Errorf("%s 退出: %w", name, err)
			}
		}()
	}

	start("processor", processor.Start)
	start("telegram", func(ctx context.Context) error { return rt.telegram.Poll(ctx, q) })
	start("api", server.Start)
	start("wallet", rt.wallet.Run)
	if addr := cfg.Server.MetricsAddress; addr != "" {
		start("metrics", func(ctx context.Context) error { return metrics.StartServer(ctx, addr) })
	}
	logger.Named("safeguardd").Info("机器人已启动",
		slog.String("username", rt.telegram.Username()),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("workers", cfg.Queue.Workers))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()
	wg.Wait()
	logger.Named("safeguardd").Info("机器人已停止")
	return runErr
}
