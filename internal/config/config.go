// Package config loads reader settings from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Viewport ViewportConfig
	TTS      TTSConfig
	Timing   TimingConfig
}

type AppConfig struct {
	LogFilePath string
	Debug       bool
}

type ViewportConfig struct {
	Cols      int
	Rows      int
	FontScale float64
}

type TTSConfig struct {
	BaseURL  string
	Voice    string
	CacheTTL time.Duration
}

type TimingConfig struct {
	SettleDelay  time.Duration
	IndexDelay   time.Duration
	IndexTimeout time.Duration
	// IndexChunkSize is the character-size hint per location chunk.
	IndexChunkSize int
}

// Load reads configuration from the environment. Missing variables fall
// back to defaults that work offline (TTS disabled until a base URL is
// set).
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		App: AppConfig{
			LogFilePath: getEnv("REFLOW_LOG_FILE", ""),
			Debug:       getEnvBool("REFLOW_DEBUG", false),
		},
		Viewport: ViewportConfig{
			Cols:      getEnvInt("REFLOW_COLS", 80),
			Rows:      getEnvInt("REFLOW_ROWS", 24),
			FontScale: getEnvFloat("REFLOW_FONT_SCALE", 1.0),
		},
		TTS: TTSConfig{
			BaseURL:  getEnv("REFLOW_TTS_URL", ""),
			Voice:    getEnv("REFLOW_TTS_VOICE", "default"),
			CacheTTL: getEnvDuration("REFLOW_TTS_CACHE_TTL", time.Hour),
		},
		Timing: TimingConfig{
			SettleDelay:    getEnvDuration("REFLOW_SETTLE_DELAY", 150*time.Millisecond),
			IndexDelay:     getEnvDuration("REFLOW_INDEX_DELAY", 500*time.Millisecond),
			IndexTimeout:   getEnvDuration("REFLOW_INDEX_TIMEOUT", 10*time.Second),
			IndexChunkSize: getEnvInt("REFLOW_INDEX_CHUNK_SIZE", 1024),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
