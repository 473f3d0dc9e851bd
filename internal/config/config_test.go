package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 1440, cfg.JWTTTLMin)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 5.0, cfg.TypingRate)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr = ":9000"
jwt_secret = "from-file"
public_url = "https://chat.example.com/"
cors_origins = ["https://a.example.com"]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("CORS_ORIGINS", "https://b.example.com, https://c.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "https://chat.example.com", cfg.PublicURL)
	assert.Equal(t, []string{"https://b.example.com", "https://c.example.com"}, cfg.CORSOrigins)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "POSTGRES_DSN")

	t.Setenv("DB_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "unknown DB_DRIVER")
}
