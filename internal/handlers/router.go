package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/plant-api/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// NewRouter wires middleware and routes for h.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = h.maxUploadBytes

	router.Use(gin.Recovery())
	router.Use(requestLogger(h.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if cfg.RateLimitRPS > 0 {
		router.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), max(cfg.RateLimitBurst, 1))))
	}

	router.GET("/health", h.Health)

	disease := router.Group("/disease")
	disease.POST("/analyze", h.Analyze)
	disease.POST("/analyze-image", h.AnalyzeImage)

	chatGroup := router.Group("/chat")
	chatGroup.GET("/test", h.ChatStatus)
	chatGroup.POST("/message", h.ChatMessage)

	if h.reports != nil {
		history := router.Group("/history")
		history.GET("", h.ListReports)
		history.POST("", h.SaveHistory)
		history.GET("/:reportId", h.GetReport)
		history.DELETE("/:reportId", h.DeleteReport)
	}

	return router
}

// rateLimit rejects requests once the shared limiter is exhausted.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			abortWithError(c, http.StatusTooManyRequests, "Too many requests, please try again later.")
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
