package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/logging"
	"github.com/huddle/chat-server/internal/messaging"
	"github.com/huddle/chat-server/internal/moderation"
)

const (
	flagSubject = "huddle.flags"
	flagListKey = "moderation:flags"
	flagListMax = 1000
)

type settings struct {
	NATSURL   string `envconfig:"NATS_URL"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

func main() {
	_ = godotenv.Load()

	var cfg settings
	if err := envconfig.Process("", &cfg); err != nil {
		boot := logging.New("info", true)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", "moderator").Logger()

	natsConfig := messaging.DefaultNATSConfig()
	if cfg.NATSURL != "" {
		natsConfig.URL = cfg.NATSURL
	}
	natsConfig.Name = "huddle-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.Fatal().Err(err).Str("url", natsConfig.URL).Msg("connect to NATS")
	}

	// Flags are also kept in a capped Redis list when Redis is configured.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to Redis")
		}
	}

	filter := moderation.NewFilter()

	err = natsClient.SubscribeEvents(func(kind string, data []byte) {
		flag, err := filter.Audit(kind, data)
		if err != nil {
			log.Warn().Err(err).Str("kind", kind).Msg("undecodable event")
			return
		}
		if flag == nil {
			return
		}
		record(log, natsClient, rdb, flag)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe to events")
	}

	log.Info().
		Str("nats_url", natsConfig.URL).
		Bool("redis", rdb != nil).
		Msg("huddle moderation service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	natsClient.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
}

func record(log zerolog.Logger, nc *messaging.NATSClient, rdb *redis.Client, flag *moderation.Flag) {
	log.Warn().
		Str("message_id", flag.MessageID).
		Str("scope", flag.Scope).
		Str("author", flag.Author).
		Str("recipient", flag.Recipient).
		Str("reason", flag.Reason).
		Str("term", flag.Term).
		Msg("message flagged")

	data, err := json.Marshal(flag)
	if err != nil {
		log.Error().Err(err).Msg("encode flag")
		return
	}
	if err := nc.Publish(flagSubject, data); err != nil {
		log.Warn().Err(err).Msg("publish flag")
	}
	if rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, flagListKey, data)
	pipe.LTrim(ctx, flagListKey, 0, flagListMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("store flag")
	}
}
