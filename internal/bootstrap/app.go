package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	httphandler "live-classroom/internal/handler/http"
	wshandler "live-classroom/internal/handler/websocket"

	"live-classroom/internal/events"
	"live-classroom/internal/hub"
	"live-classroom/internal/infra/setup"
	redisstate "live-classroom/internal/infra/state/redis"
	"live-classroom/internal/middleware"
	"live-classroom/internal/service"
	"live-classroom/internal/worker"
)

// Config 汇总应用的全部可配置项，从环境变量加载。
type Config struct {
	AppEnv     string
	ServerPort string
	LogLevel   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KeyPrefix           string
	RoomRetention       time.Duration
	SubmissionRetention time.Duration
	CounterTTLMargin    time.Duration
	ChatHistoryLimit    int64
	ChatLogTTL          time.Duration
	ChatMaxTextLen      int
	ChatRateWindow      time.Duration
	ChatRateMax         int
	RateLimitFailOpen   bool

	HTTPRateLimit  int64
	HTTPRateWindow time.Duration
}

// LoadConfig 从 .env 文件和环境变量加载配置。
// RedisAddr 是唯一的硬性必填项，其余均有默认值。
func LoadConfig() (*Config, error) {
	// .env 不存在不是错误 (生产环境直接注入环境变量)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		KeyPrefix:           getEnv("KEY_PREFIX", "lc:"),
		RoomRetention:       getEnvDuration("ROOM_RETENTION", 6*time.Hour),
		SubmissionRetention: getEnvDuration("SUBMISSION_RETENTION", time.Hour),
		CounterTTLMargin:    getEnvDuration("COUNTER_TTL_MARGIN", 5*time.Minute),
		ChatHistoryLimit:    int64(getEnvInt("CHAT_HISTORY_LIMIT", 1000)),
		ChatLogTTL:          getEnvDuration("CHAT_LOG_TTL", 2*time.Hour),
		ChatMaxTextLen:      getEnvInt("CHAT_MAX_TEXT_LEN", 60),
		ChatRateWindow:      getEnvDuration("CHAT_RATE_WINDOW", 3*time.Second),
		ChatRateMax:         getEnvInt("CHAT_RATE_MAX", 5),
		RateLimitFailOpen:   getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
		HTTPRateLimit:       int64(getEnvInt("HTTP_RATE_LIMIT", 60)),
		HTTPRateWindow:      getEnvDuration("HTTP_RATE_WINDOW", time.Minute),
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR must not be empty")
	}
	return cfg, nil
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
		logrus.Warnf("Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logrus.Warnf("Invalid duration for %s, using default %s", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logrus.Warnf("Invalid boolean for %s, using default %t", key, fallback)
	}
	return fallback
}

// App 聚合应用的全部长生命周期组件。
type App struct {
	config      *Config
	redisClient *redis.Client
	asynqClient *asynq.Client
	hub         *hub.Hub
	worker      *worker.WorkerServer
	httpServer  *http.Server
}

// NewApp 按依赖顺序组装应用: 基础设施 -> 存储库 -> 服务 -> 传输层。
func NewApp(cfg *Config) (*App, error) {
	initLogger(cfg)

	// 1. 基础设施
	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	asynqClient := asynq.NewClient(redisOpt)

	// 2. 存储库
	stateOpts := redisstate.Options{
		KeyPrefix:           cfg.KeyPrefix,
		RoomRetention:       cfg.RoomRetention,
		SubmissionRetention: cfg.SubmissionRetention,
		CounterTTLMargin:    cfg.CounterTTLMargin,
		ChatHistoryLimit:    cfg.ChatHistoryLimit,
		ChatLogTTL:          cfg.ChatLogTTL,
		RateLimitWindow:     cfg.ChatRateWindow,
		RateLimitMax:        cfg.ChatRateMax,
	}
	pollRepo := redisstate.NewPollRepository(redisClient, stateOpts)
	qnaRepo := redisstate.NewQnaRepository(redisClient, stateOpts)
	chatRepo := redisstate.NewChatLogRepository(redisClient, stateOpts)

	// 3. 服务
	pollService := service.NewPollService(pollRepo)
	qnaService := service.NewQnaService(qnaRepo)
	chatService := service.NewChatService(chatRepo, cfg.RateLimitFailOpen)

	// 4. 事件与传输层
	publisher := events.NewPublisher(redisClient, cfg.KeyPrefix)
	wsHub := hub.NewHub(pollService, qnaService, chatService, publisher, redisClient, cfg.ChatMaxTextLen)
	finalizeHandler := worker.NewFinalizeHandler(pollService, qnaService, publisher)
	workerServer := worker.NewWorkerServer(redisOpt, finalizeHandler)

	pollHandler := httphandler.NewPollHandler(pollService, publisher, asynqClient)
	qnaHandler := httphandler.NewQnaHandler(qnaService, publisher, asynqClient)
	chatHandler := httphandler.NewChatHandler(chatService)
	wsHandler := wshandler.NewHandler(wsHub)

	// 5. 路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(corsMiddleware())
	router.Use(middleware.Identity())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, middleware.RateLimitConfig{
		Limit:    cfg.HTTPRateLimit,
		Window:   cfg.HTTPRateWindow,
		FailOpen: cfg.RateLimitFailOpen,
	}))
	{
		api.POST("/rooms/:roomId/polls", pollHandler.CreatePolls)
		api.GET("/rooms/:roomId/polls", pollHandler.ListPolls)
		api.POST("/polls/:pollId/start", pollHandler.StartPoll)

		api.POST("/rooms/:roomId/qna", qnaHandler.CreateQna)
		api.GET("/rooms/:roomId/qna", qnaHandler.ListQna)
		api.POST("/qna/:qnaId/start", qnaHandler.StartQna)
		api.GET("/qna/:qnaId/answers", qnaHandler.GetAnswers)

		api.GET("/rooms/:roomId/chat", chatHandler.Replay)
	}

	router.GET("/ws/:roomId", wsHandler.Serve)

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	return &App{
		config:      cfg,
		redisClient: redisClient,
		asynqClient: asynqClient,
		hub:         wsHub,
		worker:      workerServer,
		httpServer:  httpServer,
	}, nil
}

// Start 启动 Hub、后台 worker 和 HTTP 服务 (阻塞直到服务退出)。
func (a *App) Start() error {
	go a.hub.Run()
	go func() {
		if err := a.worker.Start(); err != nil {
			logrus.WithError(err).Fatal("Worker server exited with error")
		}
	}()

	logrus.WithField("port", a.config.ServerPort).Info("HTTP server starting...")
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown 按依赖逆序优雅关闭。
func (a *App) Shutdown() {
	logrus.Info("Shutting down application...")

	a.hub.StopAllSubscriptions()
	a.worker.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server forced to shutdown")
	}

	if err := a.asynqClient.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close asynq client")
	}
	if err := a.redisClient.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close redis client")
	}
	logrus.Info("Application shutdown complete")
}

func initLogger(cfg *Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.AppEnv == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// LoggerMiddleware 记录每个 HTTP 请求的结构化访问日志。
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
		} else if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request completed with server error")
		} else {
			entry.Info("Request completed")
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Participant-Id, X-Participant-Name")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
