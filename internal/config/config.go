package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// 实时核心相关配置
	EventRateWindow   time.Duration
	EventRateCeiling  int
	TypingTTL         time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	SendBufferSize    int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=teamchat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		EventRateWindow:       time.Duration(getenvInt("EVENT_RATE_WINDOW_SECONDS", 60)) * time.Second,
		EventRateCeiling:      getenvInt("EVENT_RATE_CEILING", 100),
		TypingTTL:             time.Duration(getenvInt("TYPING_TTL_SECONDS", 10)) * time.Second,
		HeartbeatInterval:     time.Duration(getenvInt("HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
		IdleTimeout:           time.Duration(getenvInt("IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		SendBufferSize:        getenvInt("SEND_BUFFER_SIZE", 256),
	}
}

// Validate 检查配置是否可用于启动，生产环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default jwt secret not allowed outside dev")
	}
	return nil
}
