package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/account"
	"github.com/huddle/chat-server/internal/api"
	"github.com/huddle/chat-server/internal/auth"
	"github.com/huddle/chat-server/internal/config"
	"github.com/huddle/chat-server/internal/directory"
	"github.com/huddle/chat-server/internal/gateway"
	"github.com/huddle/chat-server/internal/logging"
	"github.com/huddle/chat-server/internal/media"
	"github.com/huddle/chat-server/internal/messaging"
	"github.com/huddle/chat-server/internal/moderation"
	"github.com/huddle/chat-server/internal/ratelimit"
	"github.com/huddle/chat-server/internal/session"
	"github.com/huddle/chat-server/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", true)
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty || cfg.IsDevelopment())

	// --- Accounts ---
	accounts, err := openAccounts(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.AccountBackend).Msg("open account store")
	}
	defer accounts.Close()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.ServerName)
	if err != nil {
		log.Fatal().Err(err).Msg("create token issuer")
	}

	uploads, err := media.NewDiskStore(cfg.UploadDir, cfg.UploadURLPrefix, cfg.UploadMaxBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("open upload dir")
	}

	index, err := directory.NewIndex()
	if err != nil {
		log.Fatal().Err(err).Msg("create user index")
	}
	defer index.Close()

	opts := gateway.Options{
		Verifier: issuer,
		Logger:   log,
	}

	// --- Redis (optional) ---
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		presenceStore, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to Redis")
		}
		defer presenceStore.Close()

		limiter = ratelimit.NewLimiter(presenceStore.Client(), log)
		opts.Mirror = presenceStore
		opts.Limiter = limiter
	}

	// --- NATS (optional) ---
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName

		natsClient, err := messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect to NATS")
		}
		defer natsClient.Close()
		opts.Publisher = natsClient
	}

	if cfg.ContentFilter {
		opts.Filter = moderation.NewFilter()
	}

	gw := gateway.New(opts)

	if err := loadDirectory(context.Background(), accounts, index, gw); err != nil {
		log.Fatal().Err(err).Msg("load registered users")
	}

	// --- Transport ---
	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendQueueSize:  cfg.SendQueueSize,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.PingInterval,
			Timeout:  cfg.PongTimeout,
		},
	}
	var connectLimiter gateway.Limiter
	if limiter != nil {
		connectLimiter = limiter
	}
	server := ws.NewServer(wsConfig, gw, connectLimiter, log)

	router := api.NewRouter(api.Deps{
		Logger:      log,
		Accounts:    accounts,
		Issuer:      issuer,
		Gateway:     gw,
		Directory:   index,
		Media:       uploads,
		MediaPrefix: cfg.UploadURLPrefix,
		Socket:      server,
		CORSOrigins: cfg.CORSOrigins,
	})

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("accounts", cfg.AccountBackend).
		Bool("redis", cfg.RedisAddr != "").
		Bool("nats", cfg.NATSURL != "").
		Bool("content_filter", cfg.ContentFilter).
		Str("server_name", cfg.ServerName).
		Msg("huddle chat server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(router)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func openAccounts(cfg config.Config, log zerolog.Logger) (account.Store, error) {
	if cfg.AccountBackend == config.BackendPostgres {
		if err := account.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return account.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return account.OpenBadger(cfg.BadgerPath, log)
}

// loadDirectory makes every stored account searchable and visible as an
// offline user.
func loadDirectory(ctx context.Context, accounts account.Store, index *directory.Index, gw *gateway.Gateway) error {
	all, err := accounts.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range all {
		if err := index.Add(a.Username); err != nil {
			return err
		}
		gw.EnsureUser(a.Username, a.ProfileImage)
	}
	return nil
}
