package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"REFLOW_LOG_FILE", "REFLOW_DEBUG", "REFLOW_COLS", "REFLOW_ROWS",
		"REFLOW_FONT_SCALE", "REFLOW_TTS_URL", "REFLOW_TTS_VOICE",
		"REFLOW_TTS_CACHE_TTL", "REFLOW_SETTLE_DELAY", "REFLOW_INDEX_DELAY",
		"REFLOW_INDEX_TIMEOUT", "REFLOW_INDEX_CHUNK_SIZE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 80, cfg.Viewport.Cols)
	assert.Equal(t, 24, cfg.Viewport.Rows)
	assert.Equal(t, 1.0, cfg.Viewport.FontScale)
	assert.Empty(t, cfg.TTS.BaseURL, "TTS stays disabled without an endpoint")
	assert.Equal(t, "default", cfg.TTS.Voice)
	assert.Equal(t, time.Hour, cfg.TTS.CacheTTL)
	assert.Equal(t, 150*time.Millisecond, cfg.Timing.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.Timing.IndexTimeout)
	assert.Equal(t, 1024, cfg.Timing.IndexChunkSize)
	assert.False(t, cfg.App.Debug)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REFLOW_COLS", "100")
	t.Setenv("REFLOW_FONT_SCALE", "1.5")
	t.Setenv("REFLOW_DEBUG", "true")
	t.Setenv("REFLOW_TTS_URL", "http://localhost:8880")
	t.Setenv("REFLOW_SETTLE_DELAY", "50ms")

	cfg := Load()

	assert.Equal(t, 100, cfg.Viewport.Cols)
	assert.Equal(t, 1.5, cfg.Viewport.FontScale)
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, "http://localhost:8880", cfg.TTS.BaseURL)
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.SettleDelay)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REFLOW_COLS", "not-a-number")
	t.Setenv("REFLOW_SETTLE_DELAY", "soon")
	t.Setenv("REFLOW_DEBUG", "maybe")

	cfg := Load()

	assert.Equal(t, 80, cfg.Viewport.Cols)
	assert.Equal(t, 150*time.Millisecond, cfg.Timing.SettleDelay)
	assert.False(t, cfg.App.Debug)
}
