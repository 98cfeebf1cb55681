package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8090
	DefaultDatabaseURL     = "postgres://localhost:5432/hazelsync"
	DefaultBackfillLimit   = 50
	DefaultBackfillWorkers = 5
	DefaultSweepSchedule   = "@every 5m"

	// DefaultDiscordGatewayURL is the versioned JSON gateway endpoint.
	DefaultDiscordGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	// DefaultDiscordIntents covers guilds, guild messages, and message content.
	DefaultDiscordIntents = 33281
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Sync      SyncConfig      `toml:"sync"`
	Providers ProvidersConfig `toml:"providers"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	URL string `toml:"url" validate:"required"`
}

type SyncConfig struct {
	// BackfillLimit caps messages mirrored per channel link per sweep.
	BackfillLimit int `toml:"backfill_limit" validate:"gt=0"`
	// BackfillWorkers bounds concurrent connections during a sweep.
	BackfillWorkers int `toml:"backfill_concurrency" validate:"gt=0"`
	// SweepSchedule is a cron spec for the periodic backfill sweep.
	// Empty disables the sweep.
	SweepSchedule  string   `toml:"sweep_schedule"`
	SweepProviders []string `toml:"sweep_providers"`
}

type ProvidersConfig struct {
	Discord  DiscordConfig  `toml:"discord"`
	Telegram TelegramConfig `toml:"telegram"`
	Lark     LarkConfig     `toml:"lark"`
}

type DiscordConfig struct {
	BotToken       string `toml:"bot_token"`
	GatewayEnabled bool   `toml:"gateway_enabled"`
	GatewayIntents int    `toml:"gateway_intents" validate:"gte=0"`
	GatewayURL     string `toml:"gateway_url" validate:"required"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

type LarkConfig struct {
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Database: DatabaseConfig{
			URL: DefaultDatabaseURL,
		},
		Sync: SyncConfig{
			BackfillLimit:   DefaultBackfillLimit,
			BackfillWorkers: DefaultBackfillWorkers,
			SweepSchedule:   DefaultSweepSchedule,
			SweepProviders:  []string{"discord"},
		},
		Providers: ProvidersConfig{
			Discord: DiscordConfig{
				GatewayEnabled: true,
				GatewayIntents: DefaultDiscordIntents,
				GatewayURL:     DefaultDiscordGatewayURL,
			},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, cfg.Validate()
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

// applyEnvOverrides layers the documented environment variables over the file
// values. Secrets are expected to arrive this way in most deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Providers.Discord.BotToken = v
	}
	if v := os.Getenv("DISCORD_GATEWAY_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Providers.Discord.GatewayEnabled = enabled
		}
	}
	if v := os.Getenv("DISCORD_GATEWAY_INTENTS"); v != "" {
		if intents, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Providers.Discord.GatewayIntents = intents
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Providers.Telegram.BotToken = v
	}
	if v := os.Getenv("LARK_APP_ID"); v != "" {
		cfg.Providers.Lark.AppID = v
	}
	if v := os.Getenv("LARK_APP_SECRET"); v != "" {
		cfg.Providers.Lark.AppSecret = v
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
