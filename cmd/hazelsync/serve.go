package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/config"
	"github.com/hazelchat/hazelsync/internal/db"
	"github.com/hazelchat/hazelsync/internal/gateway"
	"github.com/hazelchat/hazelsync/internal/healthcheck"
	databasechecker "github.com/hazelchat/hazelsync/internal/healthcheck/checkers/database"
	gatewaychecker "github.com/hazelchat/hazelsync/internal/healthcheck/checkers/gateway"
	"github.com/hazelchat/hazelsync/internal/identity"
	"github.com/hazelchat/hazelsync/internal/logger"
	"github.com/hazelchat/hazelsync/internal/provider"
	"github.com/hazelchat/hazelsync/internal/provider/discord"
	"github.com/hazelchat/hazelsync/internal/provider/lark"
	"github.com/hazelchat/hazelsync/internal/provider/telegram"
	"github.com/hazelchat/hazelsync/internal/receipt"
	"github.com/hazelchat/hazelsync/internal/schedule"
	"github.com/hazelchat/hazelsync/internal/server"
	"github.com/hazelchat/hazelsync/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideStores,
			provideRegistry,
			provideLedger,
			provideAuthorResolver,
			provideBotProvisioner,
			provideWorker,
			provideDispatcher,
			provideSweeper,
			provideListener,
			provideGatewayConsumer,
			provideScheduleService,
			provideHealthRegistry,
			provideServer,
		),
		fx.Invoke(
			startListener,
			startGatewayConsumer,
			startScheduleService,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideStores(pool *pgxpool.Pool) *store.Stores { return store.NewStores(pool) }

func provideRegistry(log *slog.Logger, cfg config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	registry.MustRegister(discord.New(log, cfg.Providers.Discord.BotToken))
	registry.MustRegister(telegram.New(log, cfg.Providers.Telegram.BotToken))
	registry.MustRegister(lark.New(log, cfg.Providers.Lark.AppID, cfg.Providers.Lark.AppSecret))
	return registry
}

func provideLedger(log *slog.Logger, stores *store.Stores) *receipt.Ledger {
	return receipt.NewLedger(log, stores.Receipts)
}

func provideAuthorResolver(log *slog.Logger, stores *store.Stores) *identity.Resolver {
	return identity.NewResolver(log, stores.Users, stores.OrgMembers, stores.Integrations)
}

func provideBotProvisioner(log *slog.Logger, stores *store.Stores) *identity.BotProvisioner {
	return identity.NewBotProvisioner(log, stores.Users, stores.OrgMembers)
}

func provideWorker(log *slog.Logger, registry *provider.Registry, stores *store.Stores, ledger *receipt.Ledger, authors *identity.Resolver, bots *identity.BotProvisioner) *chatsync.Worker {
	return chatsync.NewWorker(log, registry, chatsync.Deps{
		Connections:  stores.Connections,
		ChannelLinks: stores.ChannelLinks,
		MessageLinks: stores.MessageLinks,
		Messages:     stores.Messages,
		Reactions:    stores.Reactions,
		Receipts:     ledger,
		Authors:      authors,
		Bots:         bots,
	})
}

func provideDispatcher(log *slog.Logger, stores *store.Stores, worker *chatsync.Worker) *chatsync.Dispatcher {
	return chatsync.NewDispatcher(log, stores.Messages, stores.ChannelLinks, worker)
}

func provideSweeper(log *slog.Logger, stores *store.Stores, worker *chatsync.Worker, cfg config.Config) *chatsync.Sweeper {
	return chatsync.NewSweeper(log, stores.Connections, worker, cfg.Sync.BackfillWorkers)
}

func provideListener(log *slog.Logger, pool *pgxpool.Pool, dispatcher *chatsync.Dispatcher) *chatsync.EventListener {
	return chatsync.NewEventListener(log, pool, dispatcher)
}

// provideGatewayConsumer returns nil when the Discord gateway is switched
// off or has no token; the rest of the engine keeps running on outbound
// sync alone.
func provideGatewayConsumer(log *slog.Logger, cfg config.Config, stores *store.Stores, worker *chatsync.Worker) *gateway.Consumer {
	dc := cfg.Providers.Discord
	if !dc.GatewayEnabled || dc.BotToken == "" {
		log.Warn("discord gateway is disabled; external events will not be ingested",
			slog.Bool("enabled", dc.GatewayEnabled),
			slog.Bool("token_configured", dc.BotToken != ""))
		return nil
	}
	return gateway.NewConsumer(log, gateway.Config{
		URL:     dc.GatewayURL,
		Token:   dc.BotToken,
		Intents: dc.GatewayIntents,
	}, stores.ChannelLinks, worker)
}

// provideScheduleService returns nil when no sweep schedule is configured.
func provideScheduleService(log *slog.Logger, sweeper *chatsync.Sweeper, cfg config.Config) (*schedule.Service, error) {
	if cfg.Sync.SweepSchedule == "" {
		log.Warn("sweep schedule is empty; periodic backfill is disabled")
		return nil, nil
	}
	return schedule.NewService(log, sweeper, schedule.Config{
		Spec:          cfg.Sync.SweepSchedule,
		Providers:     cfg.Sync.SweepProviders,
		MaxPerChannel: cfg.Sync.BackfillLimit,
	})
}

func provideHealthRegistry(log *slog.Logger, pool *pgxpool.Pool, consumer *gateway.Consumer) *healthcheck.Registry {
	checkers := []healthcheck.Checker{databasechecker.NewChecker(log, pool)}
	if consumer != nil {
		checkers = append(checkers, gatewaychecker.NewChecker(log, consumer))
	}
	return healthcheck.NewRegistry(log, checkers...)
}

func provideServer(log *slog.Logger, cfg config.Config, health *healthcheck.Registry, sweeper *chatsync.Sweeper) *server.Server {
	return server.NewServer(log, cfg.Server.Addr(), health, sweeper)
}

func startListener(lc fx.Lifecycle, log *slog.Logger, listener *chatsync.EventListener) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("event listener stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startGatewayConsumer(lc fx.Lifecycle, log *slog.Logger, consumer *gateway.Consumer, shutdowner fx.Shutdowner) {
	if consumer == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				// A fatal gateway close means bad credentials or intents;
				// running blind on ingress is worse than stopping.
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("gateway consumer stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startScheduleService(lc fx.Lifecycle, svc *schedule.Service) {
	if svc == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { svc.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
