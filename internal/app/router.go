package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"humgo/internal/auth"
	"humgo/internal/handler"
	"humgo/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler    *handler.TripHandler
	MessageHandler *handler.MessageHandler
	SessionHandler *handler.SessionHandler
	Verifier       *auth.Verifier
	ResponseStore  middleware.ResponseStore
	NewRelicApp    *newrelic.Application
	Logger         *zap.Logger

	AllowUserHeader bool
	AllowedOrigins  []string
}

// NewRouter creates the HTTP handler with all routes registered, wrapped in
// the CORS policy.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.Verifier, deps.AllowUserHeader))
	v1.Use(middleware.NewRelicAttributes())
	v1.Use(middleware.Idempotency(deps.ResponseStore, deps.Logger))
	{
		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/status", deps.TripHandler.UpdateStatus)
			trips.POST("/:id/cancel", deps.TripHandler.CancelTrip)
			trips.GET("/:id/matches", deps.TripHandler.FindMatches)
			trips.GET("/:id/matches/persisted", deps.TripHandler.ListMatches)
		}

		v1.GET("/me/trip", deps.TripHandler.GetActiveTrip)

		// Match chat routes.
		matches := v1.Group("/matches")
		{
			matches.POST("/:id/messages", deps.MessageHandler.SendMessage)
			matches.GET("/:id/messages", deps.MessageHandler.ListMessages)
		}

		v1.GET("/session/ws", deps.SessionHandler.ServeWS)
	}

	return cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-User-ID"},
		ExposedHeaders: []string{"Retry-After", "Idempotent-Replay"},
		MaxAge:         600,
	}).Handler(router)
}
