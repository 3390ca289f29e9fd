package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/groupchat/internal/auth"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/messages"
	"github.com/Tyrowin/groupchat/internal/metrics"
	"github.com/Tyrowin/groupchat/internal/presence"
	"github.com/Tyrowin/groupchat/internal/realtime"
	"github.com/Tyrowin/groupchat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "groupchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}
	server.SetConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := auth.PromoteAdmins(ctx, st.users, cfg.AdminEmails, logger.Named("auth")); err != nil {
		_ = st.close(context.Background())
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := server.NewHub(logger.Named("hub"), m)
	coordinator := realtime.NewCoordinator(presence.NewRegistry(), hub, m, logger.Named("realtime"))
	hub.SetHandler(coordinator)
	fanout := realtime.NewFanout(hub, m, logger.Named("fanout"))

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authSvc := auth.NewService(st.users, tokens, logger.Named("auth"))
	groupSvc := groups.NewService(
		membership.NewStore(st.groups),
		auth.RoleAuthorizer{},
		logger.Named("groups"),
		groups.WithEvents(fanout),
		groups.WithUserDirectory(st.users),
	)
	messageSvc := messages.NewService(st.messages, st.groups, st.users, logger.Named("messages"))

	api := server.NewAPI(server.Deps{
		Auth:           authSvc,
		Groups:         groupSvc,
		Messages:       messageSvc,
		Hub:            hub,
		Store:          st.pinger,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
	})
	httpServer := server.CreateServer(cfg.Port, api.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(
			server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger),
			hub.Shutdown(cfg.ShutdownTimeout),
			st.close(closeCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(cfg *server.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.IsDev() {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
