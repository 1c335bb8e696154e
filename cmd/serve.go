package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/app/registry"
	"github.com/codevn-dev/codevn-app-sub001/internal/app/server"
	"github.com/codevn-dev/codevn-app-sub001/internal/app/server/handlers"
	"github.com/codevn-dev/codevn-app-sub001/internal/app/worker"
	"github.com/codevn-dev/codevn-app-sub001/internal/config"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/services"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/logger"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/telemetry"
	"github.com/codevn-dev/codevn-app-sub001/internal/plugins/memory"
	"github.com/codevn-dev/codevn-app-sub001/internal/plugins/postgres"
	redisPlugin "github.com/codevn-dev/codevn-app-sub001/internal/plugins/redis"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// ServeCommand returns the CLI command that runs the chat server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides SERVICE_ADDR",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.Service.Add = addr
			}
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	// Context
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	} else {
		defer func() {
			log.Info("flushing telemetry...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Error("telemetry shutdown failed", "err", err)
			}
		}()
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	// Infra
	messages, users, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := registry.NewRegistry(log)
	var fanout contracts.Fanout = services.NewLocalFanout(hub)
	var presenceStore contracts.PresenceStore
	heartbeat := time.Duration(0)
	if cfg.Redis.Enabled {
		rdb, err := redisPlugin.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
			return err
		}
		defer rdb.Close()
		log.Info("redis connected", "node_id", cfg.NodeID)
		bus := redisPlugin.NewRedisFanout(log, rdb)
		fanout = bus
		presenceStore = redisPlugin.NewRedisPresenceStore(rdb, cfg.Chat.PresenceTTL)
		heartbeat = cfg.Chat.PresenceTTL / 3
		hub.RunWorker(worker.NewUserWorker(log, bus, hub).Run)
	}

	// Core Services
	presence := services.NewPresenceService(log, hub, messages, fanout, presenceStore, cfg.NodeID, cfg.Chat.PresenceTTL)
	dispose := hub.Subscribe(presence.Observe)
	defer dispose()
	go presence.Run(ctx)

	seen := services.NewSeenService(log, messages, fanout)
	router := services.NewRouterService(log, messages, fanout, seen, presence, cfg.Chat.MaxMessageLength)
	userSvc := services.NewUserService(log, users)
	history := services.NewHistoryService(log, messages, userSvc, cfg.Chat.HistoryLimit, cfg.Chat.HistoryMaxLimit)
	manager := services.NewManagerService(log, hub, presence, heartbeat)
	tokens := services.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL)

	// Server
	srv := server.NewServer(log, cfg.Service.Add, cfg.Service.Name, tokens,
		handlers.NewWSHandler(tokens, manager, router, cfg.Chat),
		handlers.NewChatHandler(history, seen, userSvc, presence),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
		if err != nil {
			log.Error("server failed", "err", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("server shutdown failed", "err", serr)
	}
	hub.Close()
	return err
}

// openStore returns the message and user repositories for the configured
// driver and a func releasing them.
func openStore(ctx context.Context, log *slog.Logger, cfg *config.Config) (domain.MessageRepository, domain.UserRepository, func(), error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store, messages are lost on restart")
		store := memory.NewStore()
		return store, store, func() {}, nil
	}
	pdb, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "err", err)
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info("postgres connected", "schema_applied", cfg.Postgres.ApplySchema)
	closeDB := func() {
		if err := pdb.Close(); err != nil {
			log.Error("postgres close failed", "err", err)
		}
	}
	return postgres.NewMessageRepo(pdb), postgres.NewUserRepository(pdb), closeDB, nil
}
