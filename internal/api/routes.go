package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"docRender/internal/api/middleware"
)

// Deps 汇总路由所需的服务。
type Deps struct {
	DB             *gorm.DB
	Tokens         TokenIssuer
	Validator      middleware.TokenValidator
	LoginGuard     LoginGuardStore
	LoginLimits    LoginLimits
	Renderer       DocumentRenderer
	Viewer         PageViewer
	Reaper         StaleReaper
	HealthChecks   map[string]HealthCheck
	StatusStream   gin.HandlerFunc
	InternalSecret string
	Logger         *slog.Logger
}

// RegisterRoutes 注册全部路由。
func RegisterRoutes(router *gin.Engine, deps Deps) {
	authHandler := NewAuthHandler(deps.DB, deps.Tokens, deps.LoginGuard, deps.Logger, deps.LoginLimits)
	documentHandler := NewDocumentHandler(deps.DB, deps.Renderer, deps.Logger)
	viewerHandler := NewViewerHandler(deps.Viewer, deps.Logger)
	opsHandler := NewOpsHandler(deps.HealthChecks, deps.Reaper, deps.Logger)

	authMiddleware := middleware.AuthMiddleware(deps.Validator)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	router.GET("/health", opsHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 稳定的页面地址，交给阅读端使用
	router.GET("/documents/:id/page/:n", viewerHandler.GetPage)

	internal := router.Group("/internal", middleware.InternalSecretMiddleware(deps.InternalSecret))
	{
		internal.POST("/render/reap", opsHandler.ReapStale)
	}

	v1 := router.Group("/v1")
	{
		if deps.StatusStream != nil {
			v1.GET("/ws", deps.StatusStream)
		}

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		documents := v1.Group("/documents")
		{
			documents.GET("/:id/status", viewerHandler.GetStatus)
			documents.GET("/:id/pages", viewerHandler.ListPages)

			publisher := documents.Group("", authMiddleware, passwordGate)
			publisher.GET("", documentHandler.ListDocuments)
			publisher.POST("", documentHandler.CreateDocument)
			publisher.PUT("/:id/settings", documentHandler.UpdateSettings)
			publisher.POST("/:id/render", documentHandler.RequestRender)
		}
	}
}
