package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr      string `toml:"http_addr"`
	JWTSecret string `toml:"jwt_secret"`
	JWTTTLMin int    `toml:"jwt_ttl_min"`

	// DBDriver selects the storage backend: "sqlite" or "postgres".
	DBDriver    string `toml:"db_driver"`
	SQLITEDsn   string `toml:"sqlite_dsn"`
	PostgresDsn string `toml:"postgres_dsn"`

	// RedisURL enables cross-node broadcast and the asynq notification queue.
	RedisURL string `toml:"redis_url"`

	UploadDir string `toml:"upload_dir"`
	PublicURL string `toml:"public_url"`

	// TypingRate is the sustained number of typing signals per second per user.
	TypingRate  float64  `toml:"typing_rate"`
	CORSOrigins []string `toml:"cors_origins"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, strconv.FormatFloat(def, 'f', -1, 64)), 64)
	if err != nil {
		return def
	}
	return v
}

func defaults() Config {
	return Config{
		Addr:       ":8080",
		JWTTTLMin:  1440,
		DBDriver:   "sqlite",
		SQLITEDsn:  "file:chat.db?_pragma=foreign_keys(ON)",
		UploadDir:  "storage",
		PublicURL:  "http://localhost:8080",
		TypingRate: 5,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("HTTP_ADDR", cfg.Addr)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTLMin = getenvInt("JWT_TTL_MIN", cfg.JWTTTLMin)
	cfg.DBDriver = getenv("DB_DRIVER", cfg.DBDriver)
	cfg.SQLITEDsn = getenv("SQLITE_DSN", cfg.SQLITEDsn)
	cfg.PostgresDsn = getenv("POSTGRES_DSN", cfg.PostgresDsn)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.UploadDir = getenv("UPLOAD_DIR", cfg.UploadDir)
	cfg.PublicURL = strings.TrimRight(getenv("PUBLIC_URL", cfg.PublicURL), "/")
	cfg.TypingRate = getenvFloat("TYPING_RATE", cfg.TypingRate)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresDsn == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
