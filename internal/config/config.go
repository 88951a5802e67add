// README: Config loader: optional .env file, then KOTTU_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "KOTTU_"

type Config struct {
	HTTP struct {
		Addr string `env:"ADDR" envDefault:":8080"`
	} `envPrefix:"HTTP_"`
	DB struct {
		DSN string `env:"DSN,notEmpty"`
	} `envPrefix:"DB_"`
	// An empty Redis address selects the in-process broker and presence store.
	Redis struct {
		Addr string `env:"ADDR"`
	} `envPrefix:"REDIS_"`
	Firebase struct {
		ProjectID       string `env:"PROJECT_ID"`
		CredentialsFile string `env:"CREDENTIALS_FILE"`
	} `envPrefix:"FIREBASE_"`
	Maps struct {
		APIKey string `env:"API_KEY"`
		Region string `env:"REGION"`
	} `envPrefix:"MAPS_"`
	Telegram struct {
		Token  string `env:"TOKEN"`
		ChatID int64  `env:"CHAT_ID"`
	} `envPrefix:"TELEGRAM_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Realtime   RealtimeConfig   `envPrefix:"REALTIME_"`
	Kitchen    KitchenConfig    `envPrefix:"KITCHEN_"`
	Promotions PromotionsConfig `envPrefix:"PROMOTIONS_"`
	Orders     OrdersConfig     `envPrefix:"ORDERS_"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type RealtimeConfig struct {
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	PresenceStaleAfter   time.Duration `env:"PRESENCE_STALE_AFTER" envDefault:"2m"`
	NotifyChannel        string        `env:"NOTIFY_CHANNEL" envDefault:"order_changes"`
}

type KitchenConfig struct {
	UrgencyTick time.Duration `env:"URGENCY_TICK" envDefault:"30s"`
}

type PromotionsConfig struct {
	ValidateRPS   float64 `env:"VALIDATE_RPS" envDefault:"5"`
	ValidateBurst int     `env:"VALIDATE_BURST" envDefault:"10"`
}

type OrdersConfig struct {
	RequireSkipOverride bool   `env:"REQUIRE_SKIP_OVERRIDE" envDefault:"true"`
	NumberPrefix        string `env:"NUMBER_PREFIX" envDefault:"ORD"`
}

// Load reads files (default ".env") into the environment when present and
// parses the configuration. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// TelegramEnabled reports whether both a bot token and a chat are configured.
func (c Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != 0
}
