package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// 既定値
const (
	defaultServerPort    = "8080"
	defaultMetricsPort   = "9090"
	defaultAppEnv        = "development"
	defaultSessionMaxAge = 60 * 60 * 24 * 7
	defaultRemoteTimeout = 10 * time.Second
	defaultRateLimitAuth = 10
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote
	APIBaseURL    string
	RemoteTimeout time.Duration

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string
	AppEnv      string

	// Cookie
	CookieSecure  bool
	CookieDomain  string
	SessionMaxAge int

	// Rate Limit（認証エンドポイント、req/min/IP）
	RateLimitAuth int

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境で動作しているかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ShellConfig は対話シェルの設定。シェルはWeb層のHTTP APIだけを使う。
type ShellConfig struct {
	BaseURL       string
	RemoteTimeout time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := requireAbsoluteURL("API_BASE_URL", cfg.APIBaseURL); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", defaultRemoteTimeout)
	cfg.ServerPort = getEnvString("SERVER_PORT", defaultServerPort)
	cfg.MetricsPort = getEnvString("METRICS_PORT", defaultMetricsPort)
	cfg.AppEnv = getEnvString("APP_ENV", defaultAppEnv)
	cfg.CookieSecure = cfg.IsProduction()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.SessionMaxAge = getEnvPositiveInt("SESSION_MAX_AGE", defaultSessionMaxAge)
	cfg.RateLimitAuth = getEnvPositiveInt("RATE_LIMIT_AUTH", defaultRateLimitAuth)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// LoadShell は対話シェル用の設定を読み込む。
// 接続先はBASE_URL（Web層の公開URL）。
func LoadShell() (*ShellConfig, error) {
	baseURL := strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [BASE_URL]")
	}
	if err := requireAbsoluteURL("BASE_URL", baseURL); err != nil {
		return nil, err
	}

	return &ShellConfig{
		BaseURL:       baseURL,
		RemoteTimeout: getEnvDuration("REMOTE_TIMEOUT", defaultRemoteTimeout),
	}, nil
}

func requireAbsoluteURL(key, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: must be an absolute http(s) URL, got %q", key, value)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数を読み込む。0以下や解析できない値は既定値にする。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
