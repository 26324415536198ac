// Package ratelimit guards the WebSocket upgrade path against
// connection floods.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
)

// Limiter rate-limits WebSocket connection attempts per client IP.
type Limiter struct {
	ws *limiter.Limiter
}

// New creates a Limiter from a formatted rate ("100-M"). When a Redis
// client is provided the limit is shared across replicas; otherwise a
// per-process memory store is used.
func New(rate string, redisClient *redis.Client) (*Limiter, error) {
	wsRate, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var st limiter.Store
	if redisClient != nil {
		st, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		st = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store")
	}

	return &Limiter{ws: limiter.New(st, wsRate)}, nil
}

// AllowWebSocket checks the per-IP limit for a connection attempt.
// When the limit is exceeded it writes a 429 response and returns
// false; the caller must not upgrade.
func (l *Limiter) AllowWebSocket(c *gin.Context) bool {
	if l == nil {
		return true
	}

	key := "ws:ip:" + c.ClientIP()
	lctx, err := l.ws.Get(c.Request.Context(), key)
	if err != nil {
		// Failing open keeps the game reachable when the limiter
		// store is down.
		logging.Error(c.Request.Context(), "rate limiter check failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		logging.Warn(c.Request.Context(), "websocket connection rate limited",
			zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return false
	}
	return true
}
