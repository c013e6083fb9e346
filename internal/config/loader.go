package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration. A missing file at path is not an error; an
// unreadable or malformed one is. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env if present; variables already set win.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Unprefixed names are kept for existing deployments.
	setStr(&cfg.Server.Port, "PORT")
	setStr(&cfg.Server.JWTSecret, "JWT_SECRET")
	setStr(&cfg.Database.URL, "DATABASE_URL")

	setStr(&cfg.Server.Port, "PARI_SERVER_PORT")
	setStr(&cfg.Server.JWTSecret, "PARI_SERVER_JWT_SECRET")

	setStr(&cfg.Database.URL, "PARI_DATABASE_URL")
	setStr(&cfg.Database.MigrationsDir, "PARI_DATABASE_MIGRATIONS_DIR")

	setStr(&cfg.Redis.Addr, "PARI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARI_REDIS_DB")
	setStr(&cfg.Redis.Key, "PARI_REDIS_KEY")

	setStr(&cfg.Engine.FeeRecipient, "PARI_ENGINE_FEE_RECIPIENT")
	setInt(&cfg.Engine.MinParticipants, "PARI_ENGINE_MIN_PARTICIPANTS")
	setInt(&cfg.Engine.DailyLimit, "PARI_ENGINE_DAILY_LIMIT")
	setStr(&cfg.Engine.Seed, "PARI_ENGINE_SEED")

	setStr(&cfg.Admin.Email, "PARI_ADMIN_EMAIL")
	setStr(&cfg.Admin.Password, "PARI_ADMIN_PASSWORD")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
