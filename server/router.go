package server

import (
	"time"

	"social-publisher/infrastructure/configuration"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func InitiateRouter(
	cfg *configuration.Config,
	connectHandler httpHandler.IConnectHandler,
	publishHandler httpHandler.IPublishHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:4200", "http://localhost:4201"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// OAuth connect flow runs unauthenticated: the callback is hit by the
	// platform's redirect, not by an API client.
	router.GET("/auth/:platform", connectHandler.GetAuthURL)
	router.GET("/auth/:platform/callback", connectHandler.Callback)

	api := router.Group("api")
	api.Use(middleware.Auth(cfg.App.SecretKey))
	{
		api.GET("/accounts", connectHandler.ListAccounts)
		api.POST("/publish", publishHandler.Publish)
		api.GET("/accounts/:accountId/posts/:postId/metrics", publishHandler.PostMetrics)
		api.GET("/accounts/:accountId/analytics", publishHandler.AccountAnalytics)
		api.GET("/accounts/:accountId/audience", publishHandler.AudienceInsights)
	}

	return router
}
