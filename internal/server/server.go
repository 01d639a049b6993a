package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/auth"
	"github.com/msaedi/instructly-sub008/internal/availability"
	"github.com/msaedi/instructly-sub008/internal/config"
	"github.com/msaedi/instructly-sub008/internal/credit"
	"github.com/msaedi/instructly-sub008/internal/planner"
	"github.com/msaedi/instructly-sub008/internal/reservation"
)

// Handlers are the domain handlers mounted on the router.
type Handlers struct {
	Availability *availability.Handler
	Planner      *planner.Handler
	Reservations *reservation.Handler
	Credits      *credit.Handler
}

type Server struct {
	router *gin.Engine
	http   *http.Server
}

func New(cfg *config.Config, h Handlers, db Pinger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(corsMiddleware(cfg.AllowedOrigins()))

	router.GET("/health", Health(db))
	router.GET("/metrics", Metrics())

	protected := router.Group("/")
	protected.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	protected.Use(auth.AuthMiddleware(cfg.JWTSecret))
	{
		protected.GET("/owners/:ownerID/availability", h.Availability.GetDay)
		protected.GET("/owners/:ownerID/availability/check", h.Availability.Check)
		protected.GET("/owners/:ownerID/availability/:date/gaps", h.Planner.FindGaps)
		protected.GET("/owners/:ownerID/availability/:date/suggestions", h.Planner.SuggestSlots)
		protected.GET("/owners/:ownerID/reservations", h.Reservations.ListForOwnerDay)

		protected.GET("/reservations/:id", h.Reservations.Get)
		protected.POST("/reservations/:id/confirm", h.Reservations.Confirm)
		protected.POST("/reservations/:id/complete", h.Reservations.Complete)
		protected.POST("/reservations/:id/cancel", h.Reservations.Cancel)
		protected.POST("/reservations/:id/reschedule", h.Reservations.Reschedule)
		protected.POST("/reservations/:id/no-show", h.Reservations.ReportNoShow)
		protected.POST("/reservations/:id/no-show/dispute", h.Reservations.DisputeNoShow)

		protected.GET("/credits", h.Credits.GetBalance)
	}

	students := protected.Group("/")
	students.Use(auth.RequireRole(auth.RoleStudent, auth.RoleAdmin))
	{
		students.POST("/reservations", h.Reservations.Create)
	}

	instructors := protected.Group("/availability")
	instructors.Use(auth.RequireRole(auth.RoleInstructor))
	{
		instructors.POST("/windows", h.Planner.PublishWindow)
		instructors.DELETE("/:date/windows/:windowID", h.Planner.RemoveWindow)
		instructors.POST("/:date/merge", h.Planner.MergeDay)
		instructors.POST("/:date/windows/:windowID/split", h.Planner.SplitWindow)
	}

	admin := protected.Group("/admin")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/reservations/:id/no-show/resolve", h.Reservations.ResolveNoShow)
	}

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// corsMiddleware allows every origin when origins is empty.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AddAllowHeaders("Authorization", "X-Requested-With")
	cfg.AddExposeHeaders("Content-Length")
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}
