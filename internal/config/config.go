package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// Config contains all runtime settings for the private voice channel service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"vcrooms"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	// AdminJWTSecret guards the /v1 admin API when set.
	AdminJWTSecret string `env:"APP_ADMIN_JWT_SECRET"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL         string `env:"DATABASE_URL"`
	DatabaseAutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE" envDefault:"true"`

	DiscordToken string `env:"DISCORD_TOKEN"`

	PVC PVCConfig
}

// PVCConfig holds the guild-specific knobs of the private vc lifecycle.
type PVCConfig struct {
	GuildID          string        `env:"PVC_GUILD_ID"`
	LobbyChannelID   string        `env:"PVC_LOBBY_CHANNEL_ID"`
	ModeratorRoles   []string      `env:"PVC_MODERATOR_ROLES" envSeparator:","`
	CreationCooldown time.Duration `env:"PVC_CREATION_COOLDOWN" envDefault:"30s"`
	EmptyGrace       time.Duration `env:"PVC_EMPTY_GRACE" envDefault:"30s"`
	OwnerAbsence     time.Duration `env:"PVC_OWNER_ABSENCE" envDefault:"5m"`
	StartupSweep     time.Duration `env:"PVC_STARTUP_SWEEP" envDefault:"5s"`
	DefaultUserLimit int           `env:"PVC_DEFAULT_USER_LIMIT" envDefault:"5"`
	InboxSize        int           `env:"PVC_INBOX_SIZE" envDefault:"256"`
}

// Load reads environment variables, applies defaults and validates values
// shared by every command.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.BindAddr = strings.TrimSpace(cfg.BindAddr)
	cfg.AdminJWTSecret = strings.TrimSpace(cfg.AdminJWTSecret)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.DiscordToken = strings.TrimSpace(cfg.DiscordToken)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.PVC.GuildID = strings.TrimSpace(cfg.PVC.GuildID)
	cfg.PVC.LobbyChannelID = strings.TrimSpace(cfg.PVC.LobbyChannelID)
	cfg.PVC.ModeratorRoles = cleanList(cfg.PVC.ModeratorRoles)

	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL parse error: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.PVC.CreationCooldown <= 0 {
		return Config{}, fmt.Errorf("PVC_CREATION_COOLDOWN must be positive")
	}
	if cfg.PVC.EmptyGrace <= 0 {
		return Config{}, fmt.Errorf("PVC_EMPTY_GRACE must be positive")
	}
	if cfg.PVC.OwnerAbsence < time.Second {
		return Config{}, fmt.Errorf("PVC_OWNER_ABSENCE must be at least 1s")
	}
	if cfg.PVC.StartupSweep <= 0 {
		return Config{}, fmt.Errorf("PVC_STARTUP_SWEEP must be positive")
	}
	if cfg.PVC.DefaultUserLimit < 1 || cfg.PVC.DefaultUserLimit > 99 {
		return Config{}, fmt.Errorf("PVC_DEFAULT_USER_LIMIT must be between 1 and 99")
	}
	if cfg.PVC.InboxSize <= 0 {
		return Config{}, fmt.Errorf("PVC_INBOX_SIZE must be positive")
	}

	return cfg, nil
}

// ValidateServe checks the settings needed to connect to the platform.
func (c Config) ValidateServe() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is required"))
	}
	if c.PVC.GuildID == "" {
		errs = append(errs, errors.New("PVC_GUILD_ID is required"))
	}
	if c.PVC.LobbyChannelID == "" {
		errs = append(errs, errors.New("PVC_LOBBY_CHANNEL_ID is required"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level. Load has already validated it.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Settings converts the PVC section into lifecycle manager settings.
func (c Config) Settings() privatevc.Settings {
	return privatevc.Settings{
		GuildID:          c.PVC.GuildID,
		LobbyChannelID:   c.PVC.LobbyChannelID,
		ModeratorRoles:   c.PVC.ModeratorRoles,
		CreationCooldown: c.PVC.CreationCooldown,
		EmptyGrace:       c.PVC.EmptyGrace,
		OwnerAbsence:     c.PVC.OwnerAbsence,
		StartupSweep:     c.PVC.StartupSweep,
		DefaultUserLimit: c.PVC.DefaultUserLimit,
		InboxSize:        c.PVC.InboxSize,
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
