package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-edo-api/api/swagger"
	"github.com/noah-isme/sma-edo-api/internal/handler"
	"github.com/noah-isme/sma-edo-api/internal/middleware"
	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/service"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	"github.com/noah-isme/sma-edo-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-edo-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-edo-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Documents *handler.DocumentHandler
	Templates *handler.TemplateHandler
	Metrics   *handler.MetricsHandler
}

// NewRouter assembles the gin engine. Every /documents and /templates route sits
// behind the JWT middleware; template writes additionally require an admin role.
func NewRouter(cfg *config.Config, log *zap.Logger, metrics *service.MetricsService, tokens middleware.TokenVerifier, h Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", h.Metrics.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokens))

	docs := api.Group("/documents")
	docs.GET("", h.Documents.List)
	docs.POST("", h.Documents.Create)
	docs.GET("/:id", h.Documents.Get)
	docs.PATCH("/:id", h.Documents.Update)
	docs.DELETE("/:id", h.Documents.Delete)
	docs.POST("/:id/approve", h.Documents.Decide)
	docs.POST("/:id/complete", h.Documents.Complete)
	docs.GET("/:id/approvals", h.Documents.Approvals)
	docs.GET("/:id/comments", h.Documents.Comments)
	docs.POST("/:id/comments", h.Documents.AddComment)
	docs.GET("/:id/history", h.Documents.History)
	docs.GET("/:id/export", h.Documents.Export)

	templates := api.Group("/templates")
	templates.GET("", h.Templates.List)
	templates.GET("/defaults", h.Templates.Defaults)
	templates.GET("/:id", h.Templates.Get)

	admin := templates.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.POST("", h.Templates.Create)
	admin.PATCH("/:id", h.Templates.Update)
	admin.DELETE("/:id", h.Templates.Delete)

	return r
}
