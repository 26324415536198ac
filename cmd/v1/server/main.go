package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/bus"
	"github.com/triviaroyale/server/internal/v1/config"
	"github.com/triviaroyale/server/internal/v1/game"
	"github.com/triviaroyale/server/internal/v1/health"
	"github.com/triviaroyale/server/internal/v1/lobby"
	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/questions"
	"github.com/triviaroyale/server/internal/v1/ratelimit"
	"github.com/triviaroyale/server/internal/v1/registry"
	"github.com/triviaroyale/server/internal/v1/store"
	"github.com/triviaroyale/server/internal/v1/tracing"
	"github.com/triviaroyale/server/internal/v1/transport"
)

func main() {
	// Load .env for local development. Try a few paths to handle
	// different ways of running the binary.
	for _, path := range []string{".env", "../../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.GetLogger()

	if cfg.InstanceName == "" {
		cfg.InstanceName = lobby.GenerateInstanceName()
	}
	cfg.LogValidated(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Tracing (optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "trivia-server", cfg.OtelCollectorAddr)
		if err != nil {
			log.Error("failed to initialize tracing, continuing without", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Shared store ---
	st, err := store.NewFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect to shared store", zap.Error(err))
	}

	// Clearing another replica's election would break an ongoing
	// admission; only a lone development replica may do it.
	if cfg.SingleInstance {
		if err := st.DeleteKeys(ctx, lobby.NextGameRoomKey, lobby.NextGameServerKey); err != nil {
			log.Warn("failed to clear stale admission cells", zap.Error(err))
		} else {
			log.Info("single-instance mode: cleared admission cells")
		}
	}

	if err := questions.LoadCatalog(ctx, st, cfg.QuestionsFile); err != nil {
		log.Fatal("failed to load question catalog", zap.Error(err))
	}

	// --- Core wiring ---
	publisher := bus.NewPublisher(st, cfg.ChannelName)
	reg := registry.New(publisher, st)

	timers := game.Timers{
		Lobby:  cfg.LobbyTimer,
		Round:  cfg.RoundTimer,
		Pause:  cfg.RoundPause,
		Settle: cfg.SettleDelay,
	}
	runGame := func(roomName string) {
		pool := questions.NewPool(ctx, st, roomName, questions.DefaultPoolConfig())
		engine := game.New(roomName, st, publisher, pool, timers)
		go engine.Run(ctx)
	}
	coordinator := lobby.NewCoordinator(st, cfg.MinPlayers, cfg.InstanceName, runGame)

	limiter, err := ratelimit.New(cfg.RateLimitWsIP, st.Client())
	if err != nil {
		log.Fatal("failed to create rate limiter", zap.Error(err))
	}

	allowedOrigins := transport.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:8000"})
	hub := transport.NewHub(coordinator, reg, st, limiter, allowedOrigins, cfg.DevelopmentMode)

	// One subscriber per replica; it fans every broadcast out to the
	// sessions connected here.
	dispatcher := bus.NewDispatcher(st, cfg.ChannelName, hub)
	go dispatcher.Run(ctx)

	// --- HTTP surface ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("trivia-server"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(st)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// The static web client.
	router.StaticFile("/", "./static/index.html")
	router.Static("/static", "./static")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("instance", cfg.InstanceName))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to run server", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	// In-flight games are lost by design; their players reconnect and
	// a fresh election picks a new replica.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error("error during hub shutdown", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	if err := st.Close(); err != nil {
		log.Error("failed to close store connection", zap.Error(err))
	}

	log.Info("server exiting")
}
