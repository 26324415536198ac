package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds validated environment configuration for one replica.
type Config struct {
	// Required
	Port     string
	RedisURL string

	// Game parameters
	MinPlayers  int
	LobbyTimer  time.Duration
	RoundTimer  time.Duration
	RoundPause  time.Duration
	SettleDelay time.Duration
	ChannelName string

	// Bootstrap
	QuestionsFile  string
	SingleInstance bool
	InstanceName   string

	// Optional with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate limits ("count-period", e.g. "100-M")
	RateLimitWsIP string

	// Tracing
	TracingEnabled    bool
	OtelCollectorAddr string
}

// Load validates all environment variables and returns a Config.
// Returns an error listing every invalid variable rather than failing
// on the first one.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	// The shared store is the coordination substrate; unlike an optional
	// cache it cannot be disabled.
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			if !isValidHostPort(addr) {
				errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", addr))
			}
			if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
				cfg.RedisURL = fmt.Sprintf("redis://:%s@%s", pw, addr)
			} else {
				cfg.RedisURL = "redis://" + addr
			}
		} else {
			cfg.RedisURL = "redis://localhost:6379"
		}
	} else if !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		errs = append(errs, fmt.Sprintf("REDIS_URL must start with redis:// or rediss:// (got %q)", redactSecret(cfg.RedisURL)))
	}

	var err error
	if cfg.MinPlayers, err = getEnvIntOrDefault("MIN_PLAYERS", 2); err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MinPlayers < 2 {
		errs = append(errs, fmt.Sprintf("MIN_PLAYERS must be at least 2 (got %d)", cfg.MinPlayers))
	}

	for _, tv := range []struct {
		name string
		dst  *time.Duration
		def  int
	}{
		{"LOBBY_TIMER", &cfg.LobbyTimer, 10},
		{"ROUND_TIMER", &cfg.RoundTimer, 10},
		{"ROUND_PAUSE", &cfg.RoundPause, 10},
		{"SETTLE_DELAY", &cfg.SettleDelay, 2},
	} {
		secs, err := getEnvIntOrDefault(tv.name, tv.def)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if secs < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative (got %d)", tv.name, secs))
			continue
		}
		*tv.dst = time.Duration(secs) * time.Second
	}

	cfg.ChannelName = getEnvOrDefault("CHANNEL_NAME", "hq_trivia")
	cfg.QuestionsFile = getEnvOrDefault("QUESTIONS_FILE", "./questions/questions.json")
	cfg.SingleInstance = os.Getenv("SINGLE_INSTANCE") == "true"
	cfg.InstanceName = os.Getenv("SERVER_INSTANCE_NAME")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	cfg.OtelCollectorAddr = getEnvOrDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// LogValidated logs the validated configuration with secrets redacted.
func (c *Config) LogValidated(log *zap.Logger) {
	log.Info("environment configuration validated",
		zap.String("port", c.Port),
		zap.String("redis_url", redactSecret(c.RedisURL)),
		zap.Int("min_players", c.MinPlayers),
		zap.Duration("lobby_timer", c.LobbyTimer),
		zap.Duration("round_timer", c.RoundTimer),
		zap.Duration("round_pause", c.RoundPause),
		zap.Duration("settle_delay", c.SettleDelay),
		zap.String("channel", c.ChannelName),
		zap.Bool("single_instance", c.SingleInstance),
		zap.String("instance", c.InstanceName),
		zap.Bool("development_mode", c.DevelopmentMode),
		zap.String("rate_limit_ws_ip", c.RateLimitWsIP),
		zap.Bool("tracing_enabled", c.TracingEnabled),
	)
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, value)
	}
	return n, nil
}

// redactSecret hides any password embedded in a redis URL.
func redactSecret(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "//")
	if scheme < 0 || scheme+2 > at {
		return url
	}
	return url[:scheme+2] + "***" + url[at:]
}
