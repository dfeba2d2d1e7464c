package app

import (
	"adaptive_engine_backend/docs"
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/middleware"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 2. 学习者路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/concepts", c.concept.ListConcepts)
		authGroup.GET("/concepts/:id", c.concept.GetConcept)

		sessions := authGroup.Group("/sessions")
		{
			sessions.POST("", c.session.StartSession)
			sessions.GET("/:id", c.session.GetSession)
			sessions.POST("/:id/responses", c.session.SubmitResponse)
			sessions.POST("/:id/pause", c.session.PauseSession)
		}

		authGroup.GET("/mastery/:conceptId", c.mastery.GetMastery)
	}

	// 3. 管理员路由
	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		adminGroup.POST("/concepts", c.concept.CreateConcept)
		adminGroup.POST("/items", c.item.CreateItem)
		adminGroup.GET("/items", c.item.ListItems)
		adminGroup.GET("/items/:id", c.item.GetItem)
		adminGroup.POST("/items/:id/discrimination", c.item.RecalculateDiscrimination)
		adminGroup.POST("/mastery/:conceptId/reset", c.mastery.ResetMastery)
	}
}
