package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/config"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/go-demo/watchparty/internal/handler"
	"github.com/go-demo/watchparty/internal/middleware"
	"github.com/go-demo/watchparty/internal/pkg/cache"
	"github.com/go-demo/watchparty/internal/pkg/database"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/go-demo/watchparty/internal/repository"
	"github.com/go-demo/watchparty/internal/service"
	"github.com/go-demo/watchparty/internal/ws"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

// @title           Watch Party API
// @version         1.0
// @description     Go 同步觀影房間系統 API

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(&cfg.Log)
	defer logger.Sync()

	logger.Info("Starting watch party server",
		zap.String("mode", cfg.Server.Mode),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("lock", cfg.Lock.Driver),
		zap.String("host_policy", cfg.Playback.HostPolicy),
	)

	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		db    *sqlx.DB
		store repository.RoomStore
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err = database.NewPostgres(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close(db, logger)

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db, logger); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		store = repository.NewRoomRepository(db)
	default:
		logger.Warn("Using in-memory room store; state is lost on restart")
		store = repository.NewMemoryRoomStore()
	}

	// Redis is optional unless a redis-backed lock or host policy is configured
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(&cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer cache.Close(redisClient, logger)
	}

	var locker service.RoomLocker
	switch cfg.Lock.Driver {
	case "redis":
		locker = service.NewRedisRoomLocker(redisClient, cfg.Lock.KeyPrefix, cfg.Lock.TTL, cfg.Lock.AcquireTimeout, logger)
	default:
		locker = service.NewLocalRoomLocker(cfg.Lock.AcquireTimeout)
	}

	var hosts service.HostPolicy
	switch cfg.Playback.HostPolicy {
	case "memory":
		hosts = service.NewMemoryHostGrants()
	case "redis":
		hosts = service.NewRedisHostGrants(redisClient)
	default:
		hosts = service.OwnerOnlyPolicy{}
	}
	gate := service.NewAuthorityGate(hosts)

	var playbackCache cache.PlaybackCache
	if redisClient != nil {
		playbackCache = cache.NewRedisPlaybackCache(redisClient, cfg.Playback.CacheTTL)
	}

	// The hub publishes committed events and serves client commands
	hub := ws.NewHub(redisClient, ws.HubOptions{
		InstanceID:  cfg.Hub.InstanceID,
		Channel:     cfg.Hub.Channel,
		RedisFanout: cfg.Hub.RedisFanout,
	}, logger)

	membership := service.NewMembershipCoordinator(store, locker, gate, playbackCache, hub, cfg.Retry.Backoff, logger)
	playback := service.NewPlaybackSynchronizer(store, locker, gate, playbackCache, hub, cfg.Retry.Backoff, logger)
	session := service.NewSessionService(membership, playback, gate, cfg.Room.DefaultCapacity, cfg.Room.MaxCapacity, logger)
	hub.SetSession(session)

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer)

	// Initialize handlers
	roomHandler := handler.NewRoomHandler(session)
	healthHandler := handler.NewHealthHandler(db, redisClient, version)
	wsHandler := ws.NewHandler(hub, jwtManager, middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...).CheckOrigin, logger)

	router := setupRouter(cfg, logger, jwtManager, redisClient, roomHandler, healthHandler, wsHandler)

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		return hub.SubscribeRedis(gctx)
	})

	g.Go(func() error {
		logger.Info("Server is running",
			zap.String("addr", srv.Addr),
			zap.String("instance_id", hub.InstanceID()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}

func initLogger(cfg *config.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := cfg.Format
	if encoding != "console" {
		encoding = "json"
	}
	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

func setupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *utils.JWTManager,
	redisClient *redis.Client,
	roomHandler *handler.RoomHandler,
	healthHandler *handler.HealthHandler,
	wsHandler *ws.Handler,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "")
	})

	router.GET("/health", healthHandler.Check)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// WebSocket endpoint
	router.GET("/ws", wsHandler.ServeWS)

	apiLimit := func(c *gin.Context) { c.Next() }
	playbackLimit := func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		apiLimit = middleware.APIRateLimit(
			middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window),
			cfg.RateLimit.Window,
		)
		playbackLimit = middleware.PlaybackRateLimit(
			middleware.NewRateLimiter(redisClient, cfg.RateLimit.PlaybackRequests, cfg.RateLimit.Window),
			cfg.RateLimit.Window,
		)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(jwtManager), apiLimit)
	{
		rooms := v1.Group("/rooms")
		{
			rooms.GET("", roomHandler.ListPublic)
			rooms.POST("", roomHandler.Create)
			rooms.GET("/me", roomHandler.ListMyRooms)
			rooms.GET("/:id", roomHandler.GetByID)
			rooms.PUT("/:id", roomHandler.Update)
			rooms.DELETE("/:id", roomHandler.Delete)
			rooms.POST("/:id/join", roomHandler.Join)
			rooms.POST("/:id/leave", roomHandler.Leave)
			rooms.GET("/:id/members", roomHandler.ListMembers)
			rooms.GET("/:id/playback", roomHandler.GetPlayback)
			rooms.PUT("/:id/playback", playbackLimit, roomHandler.UpdatePlayback)
			rooms.GET("/:id/hosts", roomHandler.ListHosts)
			rooms.POST("/:id/hosts/:user_id", roomHandler.GrantHost)
			rooms.DELETE("/:id/hosts/:user_id", roomHandler.RevokeHost)
		}

		v1.GET("/ws/stats", wsHandler.GetStats)
		v1.GET("/ws/stats/rooms/:id", wsHandler.GetRoomStats)
	}

	return router
}
