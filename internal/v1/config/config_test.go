package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearGameEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "REDIS_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"MIN_PLAYERS", "LOBBY_TIMER", "ROUND_TIMER", "ROUND_PAUSE", "SETTLE_DELAY",
		"CHANNEL_NAME", "QUESTIONS_FILE", "SINGLE_INSTANCE", "SERVER_INSTANCE_NAME",
		"GO_ENV", "LOG_LEVEL", "DEVELOPMENT_MODE", "ALLOWED_ORIGINS",
		"RATE_LIMIT_WS_IP", "TRACING_ENABLED", "OTEL_COLLECTOR_ADDR",
	} {
		// t.Setenv registers the restore; unsetting afterwards makes the
		// defaults observable.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearGameEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 2, cfg.MinPlayers)
	assert.Equal(t, 10*time.Second, cfg.LobbyTimer)
	assert.Equal(t, 10*time.Second, cfg.RoundTimer)
	assert.Equal(t, 10*time.Second, cfg.RoundPause)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, "hq_trivia", cfg.ChannelName)
	assert.Equal(t, "./questions/questions.json", cfg.QuestionsFile)
	assert.False(t, cfg.SingleInstance)
	assert.Equal(t, "100-M", cfg.RateLimitWsIP)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_CustomValues(t *testing.T) {
	clearGameEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("MIN_PLAYERS", "5")
	t.Setenv("LOBBY_TIMER", "30")
	t.Setenv("CHANNEL_NAME", "trivia_test")
	t.Setenv("SINGLE_INSTANCE", "true")
	t.Setenv("SERVER_INSTANCE_NAME", "SERVER-aaaa-bbbb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5, cfg.MinPlayers)
	assert.Equal(t, 30*time.Second, cfg.LobbyTimer)
	assert.Equal(t, "trivia_test", cfg.ChannelName)
	assert.True(t, cfg.SingleInstance)
	assert.Equal(t, "SERVER-aaaa-bbbb", cfg.InstanceName)
}

func TestLoad_RedisURLFromAddr(t *testing.T) {
	clearGameEnv(t)
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_PASSWORD", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://:s3cret@redis.internal:6379", cfg.RedisURL)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	clearGameEnv(t)
	t.Setenv("PORT", "not-a-port")
	t.Setenv("MIN_PLAYERS", "1")
	t.Setenv("ROUND_TIMER", "-5")
	t.Setenv("REDIS_URL", "http://wrong-scheme")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "PORT")
	assert.ErrorContains(t, err, "MIN_PLAYERS")
	assert.ErrorContains(t, err, "ROUND_TIMER")
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestLoad_InvalidRedisAddr(t *testing.T) {
	clearGameEnv(t)
	t.Setenv("REDIS_ADDR", "no-port-here")

	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestIsValidHostPort(t *testing.T) {
	assert.True(t, isValidHostPort("localhost:6379"))
	assert.True(t, isValidHostPort("redis.internal:1"))
	assert.False(t, isValidHostPort("localhost"))
	assert.False(t, isValidHostPort(":6379"))
	assert.False(t, isValidHostPort("localhost:0"))
	assert.False(t, isValidHostPort("localhost:notaport"))
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "redis://***@redis.internal:6379", redactSecret("redis://:s3cret@redis.internal:6379"))
	assert.Equal(t, "redis://localhost:6379", redactSecret("redis://localhost:6379"))
}
