package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"resumerank/internal/api/middleware"
	"resumerank/internal/auth"
	"resumerank/internal/config"
	"resumerank/internal/engine"
	"resumerank/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	engineClient *engine.Client,
	storageClient *storage.Client,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
) {
	rankHandler := NewRankHandler(db, engineClient, cfg.Upload, cfg.Clamd.Addr)
	resumeHandler := NewResumeHandler(db, storageClient, engineClient, asynqClient, cfg.Upload, cfg.Clamd.Addr)
	authHandler := NewAuthHandler(
		db,
		authService,
		redisClient,
		logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		time.Duration(cfg.Auth.LoginLockTTLMinutes)*time.Minute,
		cfg.Auth.CookieDomain,
	)
	wsHandler := NewWsHandler(redisClient, authService, logger, nil)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		rankGroup := v1.Group("/rank")
		rankGroup.Use(authMiddleware)
		{
			rankGroup.POST("", rankHandler.SubmitUpload)
			rankGroup.POST("/stored", rankHandler.SubmitStored)
			rankGroup.GET("/sessions", rankHandler.ListSessions)
			rankGroup.GET("/sessions/:id", rankHandler.GetSession)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("", resumeHandler.UploadResume)
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)
		}
	}
}
