package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cleanwave/internal/api/auth"
	"cleanwave/internal/api/middleware"
	"cleanwave/internal/config"
	"cleanwave/internal/geocode"
	"cleanwave/internal/llm"
	"cleanwave/internal/model"
	"cleanwave/internal/pkg/metrics"
	"cleanwave/internal/pkg/notify"
	"cleanwave/internal/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、可选的 Redis 客户端、地理编码客户端、
// 文本生成器以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	geocoder  Geocoder
	generator llm.Generator
	regStore  RegistrationStore
	aiLimiter *ratelimit.RateLimiter
}

// Geocoder 将自由文本地址解析为坐标。
type Geocoder interface {
	Resolve(ctx context.Context, address string) (geocode.Coordinates, bool)
}

// RegistrationStore 管理活动报名关系。
type RegistrationStore interface {
	Join(ctx context.Context, eventID, userID uint) error
	Leave(ctx context.Context, eventID, userID uint) error
	CountForEvent(ctx context.Context, eventID uint) (int64, error)
	HasRegistration(ctx context.Context, eventID, userID uint) (bool, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（未配置时跳过，相关能力降级）
// 3. 初始化地理编码客户端与文本生成器
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Event{}, &model.EventRegistration{}, &model.WasteLog{}); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("redis not configured, rate limiting disabled")
	}

	generator, err := llm.New(ctx, &cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		auth:      auth.NewHandler(db, cfg.Security.JWTSecret, cfg.Security.TokenTTL, mailer, logger),
		geocoder:  geocode.New(&cfg.Geocode, logger),
		generator: generator,
		regStore:  dbRegistrationStore{db: db},
		aiLimiter: ratelimit.NewRedisRateLimiter(rdb, logger, "cleanwave:ratelimit:ai", cfg.App.AIRateLimit, cfg.App.AIRateBurst),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")

	api.POST("/auth/register", s.auth.Register)
	api.POST("/auth/login", s.auth.Login)
	api.POST("/auth/verify", s.auth.VerifyEmail)
	api.POST("/auth/resend", s.auth.ResendCode)

	api.GET("/events", s.handleListEvents)
	api.GET("/events/map-data", s.handleMapData)
	api.GET("/events/:id", s.handleGetEvent)

	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/events", s.handleCreateEvent)
	authed.PUT("/events/:id", s.handleUpdateEvent)
	authed.DELETE("/events/:id", s.handleDeleteEvent)
	authed.POST("/events/:id/join", s.handleJoinEvent)
	authed.POST("/events/:id/leave", s.handleLeaveEvent)
	authed.POST("/events/:id/generate-post", s.handleGeneratePost)
	authed.POST("/events/:id/ask-ecobot", s.handleAskEcoBot)
	authed.GET("/users/profile", s.handleGetProfile)
	authed.PUT("/users/profile", s.handleUpdateProfile)
	authed.GET("/users/events", s.handleUserEvents)
	authed.GET("/users/stats", s.handleUserStats)
	authed.GET("/waste-logs/event/:id", s.handleListEventWasteLogs)
	authed.POST("/waste-logs/event/:id", s.handleCreateWasteLog)
	authed.PUT("/waste-logs/:id", s.handleUpdateWasteLog)
	authed.DELETE("/waste-logs/:id", s.handleDeleteWasteLog)
	authed.GET("/waste-logs/event/:id/analytics", s.handleEventAnalytics)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondDomainError 将领域错误映射为 HTTP 状态码。
func (s *Server) respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrEventInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, llm.ErrGeneration):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.logger.Error("internal error", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// parseIDParam 解析路径中的数字 ID。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func getUserID(c *gin.Context) uint {
	v, ok := c.Get("userID")
	if !ok {
		return 0
	}
	if id, ok := v.(uint); ok {
		return id
	}
	return 0
}

func getUserRole(c *gin.Context) string {
	role, ok := c.Get("role")
	if !ok {
		return ""
	}
	if s, ok := role.(string); ok {
		return s
	}
	return ""
}
