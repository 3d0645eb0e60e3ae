// Package config loads server settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Account storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config holds every tunable of the chat server.
type Config struct {
	Env        string `envconfig:"ENV" default:"development"`
	ServerName string `envconfig:"SERVER_NAME" default:"huddle"`

	// WebSocket / HTTP
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":3001" validate:"required"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256" validate:"min=1"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000" validate:"min=1"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	SendQueueSize  int           `envconfig:"SEND_QUEUE_SIZE" default:"256" validate:"min=1"`
	PingInterval   time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	PongTimeout    time.Duration `envconfig:"HEARTBEAT_TIMEOUT" default:"60s"`
	CORSOrigins    []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// Identity
	JWTSecret string        `envconfig:"JWT_SECRET" validate:"required"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"1h"`

	// Accounts
	AccountBackend string `envconfig:"ACCOUNT_BACKEND" default:"badger" validate:"oneof=badger postgres"`
	BadgerPath     string `envconfig:"BADGER_PATH" default:"data/accounts"`
	DatabaseURL    string `envconfig:"DATABASE_URL" validate:"required_if=AccountBackend postgres"`

	// Optional side channels; empty disables them.
	RedisAddr string `envconfig:"REDIS_ADDR"`
	NATSURL   string `envconfig:"NATS_URL"`

	// Media
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"public/uploads"`
	UploadURLPrefix string `envconfig:"UPLOAD_URL_PREFIX" default:"/uploads/"`
	UploadMaxBytes  int64  `envconfig:"UPLOAD_MAX_BYTES" default:"5242880" validate:"min=1"`

	ContentFilter bool `envconfig:"CONTENT_FILTER" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

var validate = validator.New()

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid configuration")

// Load reads .env (if any) and the environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}
