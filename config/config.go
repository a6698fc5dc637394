// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// IdentityScheme はキーに紐付けるクライアント識別子の種別を表す。
type IdentityScheme string

const (
	// IdentitySchemeNumber はクライアントが申告する不透明な識別子（電話番号など）。
	IdentitySchemeNumber IdentityScheme = "number"
	// IdentitySchemeDevice は接続元IPアドレスとUser-Agentから導出する識別子。
	IdentitySchemeDevice IdentityScheme = "device"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port                  string
	DatabaseURL           string
	LogLevel              string
	IdentityScheme        IdentityScheme
	DefaultValidityMonths int
	KeepAliveURL          string
	KeepAliveInterval     time.Duration
	GoogleCloudProject    string
	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelSamplingRate      float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		LogLevel:              getEnv("LOG_LEVEL", "INFO"),
		IdentityScheme:        IdentityScheme(getEnv("IDENTITY_SCHEME", string(IdentitySchemeNumber))),
		DefaultValidityMonths: getEnvInt("DEFAULT_VALIDITY_MONTHS", 1),
		KeepAliveURL:          os.Getenv("KEEPALIVE_URL"),
		KeepAliveInterval:     getEnvDuration("KEEPALIVE_INTERVAL", 10*time.Minute),
		GoogleCloudProject:    os.Getenv("GOOGLE_CLOUD_PROJECT"),
		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "activation-key-service"),
		OtelSamplingRate:      getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
