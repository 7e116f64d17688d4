package api

import (
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/api/handlers"
	"github.com/Mieluoxxx/nova-proxy/internal/api/middleware"
	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/config"
	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/mapping"
	"github.com/Mieluoxxx/nova-proxy/internal/stats"
	"github.com/Mieluoxxx/nova-proxy/internal/upstream"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Dependencies 路由依赖
type Dependencies struct {
	Version        string
	Config         *config.Config
	Client         *upstream.Client
	Pool           *balancer.KeyPool
	HealthChecker  *upstream.HealthChecker
	MappingService *mapping.Service
	EventService   *events.Service
	RequestCounter *stats.RequestCounter
}

// SetupRouter 配置路由
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware("/health"))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			"x-api-key", "anthropic-version", "anthropic-beta",
		},
		MaxAge: 12 * time.Hour,
	}))

	statusHandler := handlers.NewStatusHandler(
		deps.Version,
		deps.Config.UpstreamURL,
		deps.Config.DefaultModel,
		deps.Pool,
		deps.MappingService,
		deps.RequestCounter,
		deps.EventService,
	)
	router.GET("/health", statusHandler.Health)
	router.GET("/status", statusHandler.GetStatus)

	setupMessagesRoutes(router, deps)

	apiGroup := router.Group("/api")
	{
		setupMappingRoutes(apiGroup, deps)
		setupUpstreamRoutes(apiGroup, deps)
	}

	return router
}

// setupMessagesRoutes 配置 Claude Messages 路由
func setupMessagesRoutes(router *gin.Engine, deps Dependencies) {
	handler := handlers.NewProxyHandler(
		deps.Client,
		deps.MappingService,
		handlers.ProxyOptions{
			DefaultModel: deps.Config.DefaultModel,
			MaxTokens:    deps.Config.Translation.MaxTokens,
			Temperature:  deps.Config.Translation.Temperature,
		},
		deps.RequestCounter,
		deps.EventService,
	)

	v1 := router.Group("/v1")
	if deps.RequestCounter != nil {
		v1.Use(middleware.RequestCounterMiddleware(deps.RequestCounter))
	}
	{
		v1.POST("/messages", handler.Messages)
		v1.POST("/messages/count_tokens", handler.MessagesCountTokens)
	}
}

// setupMappingRoutes 配置模型映射路由
func setupMappingRoutes(group *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewMappingHandler(deps.MappingService, deps.EventService)

	mappings := group.Group("/mappings")
	{
		mappings.GET("", handler.ListMappings)
		mappings.GET("/:source", handler.GetMapping)
		mappings.PUT("/:source", handler.UpsertMapping)
		mappings.DELETE("/:source", handler.DeleteMapping)
	}
}

// setupUpstreamRoutes 配置上游管理路由
func setupUpstreamRoutes(group *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewUpstreamHandler(deps.Config, deps.Pool, deps.HealthChecker, deps.EventService)

	upstreamGroup := group.Group("/upstream")
	{
		upstreamGroup.GET("/health", handler.HealthCheck)
		upstreamGroup.PUT("/keys", handler.UpdateKeys)
	}
}
