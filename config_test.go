package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/hub")
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("CORS_ORIGIN", "http://a.test/, ,http://b.test")
	t.Setenv("COOKIE_SAMESITE", "None")
	t.Setenv("TRANSFER_TTL_HOURS", "48")
	t.Setenv("LOGIN_RATE_PER_MINUTE", "-3")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "hub-media")
	t.Setenv("FX_BASE_URL", "http://fx.test/")

	cfg := loadConfig()
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, http.SameSiteNoneMode, cfg.CookieSameSite)
	assert.Equal(t, 48*time.Hour, cfg.TransferTTL)
	assert.Equal(t, 10, cfg.LoginRatePerMinute)
	assert.Equal(t, "s3", cfg.StorageBackend)
	assert.Equal(t, "http://fx.test", cfg.FXBaseURL)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	require.NoError(t, cfg.validate())
}

func TestConfigValidate(t *testing.T) {
	base := Config{DatabaseURL: "postgres://x", JWTSecret: "0123456789abcdef", StorageBackend: "disk"}
	require.NoError(t, base.validate())

	c := base
	c.DatabaseURL, c.JWTSecret = "", ""
	assert.ErrorContains(t, c.validate(), "DATABASE_URL, JWT_SECRET")

	c = base
	c.StorageBackend = "s3"
	assert.ErrorContains(t, c.validate(), "S3_BUCKET")

	c = base
	c.StorageBackend = "ftp"
	assert.ErrorContains(t, c.validate(), "STORAGE_BACKEND")

	c = base
	c.JWTSecret = "short"
	assert.ErrorContains(t, c.validate(), "at least 16")
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HUB_TEST_VALUE=from-dotenv\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HUB_TEST_VALUE", "")

	assert.Equal(t, ".env", loadDotenv())
	assert.Equal(t, "from-dotenv", os.Getenv("HUB_TEST_VALUE"))
}

func TestWithLocalSSLDisabled(t *testing.T) {
	assert.Equal(t, "postgres://localhost/db?sslmode=disable", withLocalSSLDisabled("postgres://localhost/db"))
	assert.Equal(t, "postgres://127.0.0.1/db?x=1&sslmode=disable", withLocalSSLDisabled("postgres://127.0.0.1/db?x=1"))
	assert.Equal(t, "postgres://localhost/db?sslmode=require", withLocalSSLDisabled("postgres://localhost/db?sslmode=require"))
	assert.Equal(t, "postgres://db.internal/db", withLocalSSLDisabled("postgres://db.internal/db"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: users.email")))
}

func TestUniqueIndexOnSqlite(t *testing.T) {
	db := newTestDB(t)
	u := User{ID: newID(), Username: "dup", Email: "dup@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&u).Error)
	u.ID = newID()
	err := db.Create(&u).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}
