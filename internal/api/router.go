package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/guttosm/reconpulse/internal/middleware"
)

// NewRouter creates a Gin engine with routes configured.
// It receives a Handler instance with all business logic already injected.
//
// Responsibilities:
//   - Registers global middlewares (RequestID, Logger, Recovery, RateLimiter).
//   - Adds request timeout handling (30 seconds; synchronous runs can be slow).
//   - Mounts Swagger docs (/swagger/*any).
//   - Configures API v1 routes (/api/v1).
//
// Note:
//   - Health and readiness endpoints (/healthz, /readyz) are registered in app.InitializeApp().
func NewRouter(handler *Handler) *gin.Engine {
	router := gin.New()

	// ─── Middlewares ───────────────────────────────
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RecoveryMiddleware(),
		middleware.ErrorHandler,
		middleware.RateLimiter(),
	)

	// ─── Timeout ──────────────────────────────────
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	// ─── Swagger ──────────────────────────────────
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// ─── API v1 ───────────────────────────────────
	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", handler.CreateRun)
		v1.GET("/runs", handler.ListRuns)
		v1.GET("/runs/:id", handler.GetRun)

		v1.GET("/breaks", handler.ListBreaks)
		v1.GET("/breaks/:id", handler.GetBreak)
		v1.POST("/breaks/:id/acknowledge", handler.Acknowledge)
		v1.POST("/breaks/:id/resolve", handler.Resolve)
		v1.POST("/breaks/:id/close", handler.Close)
		v1.POST("/breaks/:id/escalate", handler.Escalate)
		v1.POST("/breaks/:id/auto-remediate", handler.AutoRemediate)

		v1.POST("/sweep", handler.Sweep)

		v1.GET("/reports/summary", handler.Summary)
		v1.GET("/reports/aging", handler.Aging)
		v1.GET("/reports/root-causes", handler.RootCauses)

		v1.POST("/predict", handler.Predict)
	}

	return router
}
