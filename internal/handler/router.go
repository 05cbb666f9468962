package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/middleware"
	"osapio-go/internal/service"
	"osapio-go/pkg/metrics"
	"osapio-go/pkg/token"
)

// RouterDeps 汇总了注册路由所需的依赖。Metrics、AnalysisLimiter、Ping 可以为空。
type RouterDeps struct {
	JWTManager      *token.JWTManager
	UserService     service.UserService
	UploadService   service.UploadService
	AnalysisService service.AnalysisService
	SearchService   service.SearchService
	Streamer        StreamRunner
	Ping            func(ctx context.Context) error
	Metrics         *metrics.Metrics
	AnalysisLimiter *middleware.UserRateLimiter
	AllowedOrigins  []string
}

// NewRouter 创建路由引擎并注册全部 /api 路由。
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(d.AllowedOrigins))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	userHandler := NewUserHandler(d.UserService)
	uploadHandler := NewUploadHandler(d.UploadService)
	analysisHandler := NewAnalysisHandler(d.AnalysisService, d.Streamer)
	systemHandler := NewSystemHandler(d.Ping)
	authMiddleware := middleware.AuthMiddleware(d.JWTManager, d.UserService)

	api := r.Group("/api")
	{
		api.GET("/", systemHandler.Root)
		api.GET("/health", systemHandler.Health)

		// Auth 路由组
		auth := api.Group("/auth")
		{
			auth.POST("/register", userHandler.Register)
			auth.POST("/login", userHandler.Login)
			auth.POST("/refreshToken", NewAuthHandler(d.UserService).RefreshToken)
			auth.POST("/logout", authMiddleware, userHandler.Logout)
		}

		// 需要认证的路由
		authed := api.Group("")
		authed.Use(authMiddleware)
		{
			authed.GET("/me", userHandler.GetProfile)
			authed.PUT("/me", userHandler.UpdateProfile)

			authed.POST("/upload-record", uploadHandler.CreateRecord)
			authed.GET("/my-uploads", uploadHandler.ListUploads)
			authed.GET("/upload/:id", uploadHandler.GetUpload)
			authed.GET("/download/:id", uploadHandler.Download)
			authed.DELETE("/upload-record/:id", uploadHandler.DeleteRecord)

			analyze := authed.Group("/analyze")
			if d.AnalysisLimiter != nil {
				analyze.Use(d.AnalysisLimiter.Middleware())
			}
			analyze.POST("/:id", analysisHandler.Analyze)
			analyze.GET("/:id/stream", analysisHandler.Stream)

			authed.GET("/search", NewSearchHandler(d.SearchService).Search)
		}
	}
	return r
}
