package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	JWTSecret   string

	CookieName        string
	RefreshCookieName string
	CSRFCookieName    string
	CookieSecure      bool
	CookieDomain      string
	CookieSameSite    http.SameSite
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AllowDevHeader    bool

	CORSOrigins []string
	Port        string
	LogLevel    string

	MediaRoot      string
	StorageBackend string // disk | s3
	S3Bucket       string
	S3Region       string
	S3Endpoint     string

	SecurityConfigPath string
	TransferTTL        time.Duration
	JanitorInterval    time.Duration
	LoginRatePerMinute int
	FXBaseURL          string

	DemoMode         bool
	DemoSourceUserID string
	DemoCloneLimit   int
}

func loadConfig() Config {
	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		CookieName:        getenv("COOKIE_NAME", "hub_auth"),
		RefreshCookieName: getenv("REFRESH_COOKIE_NAME", "hub_refresh"),
		CSRFCookieName:    getenv("CSRF_COOKIE_NAME", "csrftoken"),
		CookieSecure:      os.Getenv("COOKIE_SECURE") == "true",
		CookieDomain:      os.Getenv("COOKIE_DOMAIN"),
		CookieSameSite:    parseSameSite(os.Getenv("COOKIE_SAMESITE")),
		AccessTTL:         time.Duration(getenvInt("ACCESS_TTL_MINUTES", 60)) * time.Minute,
		RefreshTTL:        time.Duration(getenvInt("REFRESH_TTL_HOURS", 24*30)) * time.Hour,
		AllowDevHeader:    os.Getenv("ALLOW_DEV_HEADER") == "true",

		CORSOrigins: splitOrigins(getenv("CORS_ORIGIN", "http://localhost:4200,http://localhost:5173")),
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		MediaRoot:      getenv("MEDIA_ROOT", "media"),
		StorageBackend: strings.ToLower(getenv("STORAGE_BACKEND", "disk")),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getenv("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),

		SecurityConfigPath: os.Getenv("SECURITY_CONFIG_PATH"),
		TransferTTL:        time.Duration(getenvInt("TRANSFER_TTL_HOURS", 24*7)) * time.Hour,
		JanitorInterval:    time.Duration(getenvInt("JANITOR_INTERVAL_MINUTES", 30)) * time.Minute,
		LoginRatePerMinute: getenvInt("LOGIN_RATE_PER_MINUTE", 10),
		FXBaseURL:          strings.TrimRight(getenv("FX_BASE_URL", "https://api.frankfurter.app"), "/"),

		DemoMode:         strings.ToLower(os.Getenv("DEMO_MODE")) == "true",
		DemoSourceUserID: strings.TrimSpace(os.Getenv("DEMO_SOURCE_USER_ID")),
		DemoCloneLimit:   getenvInt("DEMO_CLONE_LIMIT", 250),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// "none" | "lax" | "strict", default lax
func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

// allow comma-separated list of origins
func splitOrigins(s string) []string {
	var origins []string
	for _, p := range strings.Split(s, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
