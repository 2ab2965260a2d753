package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.PVC.CreationCooldown != 30*time.Second || cfg.PVC.EmptyGrace != 30*time.Second {
		t.Fatalf("cooldown/grace = %v/%v, want 30s/30s", cfg.PVC.CreationCooldown, cfg.PVC.EmptyGrace)
	}
	if cfg.PVC.OwnerAbsence != 5*time.Minute {
		t.Fatalf("OwnerAbsence = %v, want 5m", cfg.PVC.OwnerAbsence)
	}
	if cfg.PVC.StartupSweep != 5*time.Second {
		t.Fatalf("StartupSweep = %v, want 5s", cfg.PVC.StartupSweep)
	}
	if cfg.PVC.DefaultUserLimit != 5 {
		t.Fatalf("DefaultUserLimit = %d, want 5", cfg.PVC.DefaultUserLimit)
	}
	if !cfg.DatabaseAutoMigrate {
		t.Fatalf("DatabaseAutoMigrate = false, want true")
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("Level() = %v, want info", cfg.Level())
	}
}

func TestLoadParsesModeratorRoles(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PVC_MODERATOR_ROLES", " 1, 2 ,,3 ")
	t.Setenv("PVC_GUILD_ID", " 99 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.Join(cfg.PVC.ModeratorRoles, "|") != "1|2|3" {
		t.Fatalf("ModeratorRoles = %q", cfg.PVC.ModeratorRoles)
	}
	settings := cfg.Settings()
	if settings.GuildID != "99" || len(settings.ModeratorRoles) != 3 {
		t.Fatalf("Settings() = %+v", settings)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PVC_OWNER_ABSENCE":      "10ms",
		"PVC_DEFAULT_USER_LIMIT": "100",
		"PVC_EMPTY_GRACE":        "nope",
		"LOG_LEVEL":              "loud",
		"LOG_FORMAT":             "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil for %s=%s", key, value)
			}
		})
	}
}

func TestValidateServeRequiresPlatformSettings(t *testing.T) {
	setCoreEnvEmpty(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = cfg.ValidateServe()
	if err == nil {
		t.Fatalf("ValidateServe() error = nil, want missing settings")
	}
	for _, key := range []string{"DISCORD_TOKEN", "PVC_GUILD_ID", "PVC_LOBBY_CHANNEL_ID"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("ValidateServe() error %q does not mention %s", err, key)
		}
	}

	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("PVC_GUILD_ID", "1")
	t.Setenv("PVC_LOBBY_CHANNEL_ID", "2")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe() error = %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_ADMIN_JWT_SECRET",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"DATABASE_AUTO_MIGRATE",
		"DISCORD_TOKEN",
		"PVC_GUILD_ID",
		"PVC_LOBBY_CHANNEL_ID",
		"PVC_MODERATOR_ROLES",
		"PVC_CREATION_COOLDOWN",
		"PVC_EMPTY_GRACE",
		"PVC_OWNER_ABSENCE",
		"PVC_STARTUP_SWEEP",
		"PVC_DEFAULT_USER_LIMIT",
		"PVC_INBOX_SIZE",
	}
	for _, key := range keys {
		// Setenv registers the restore; Unsetenv makes the key absent.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
