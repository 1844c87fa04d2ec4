// Package server exposes the screening service over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	"github.com/Aidin1998/amlscreen/pkg/validation"
)

// ScreeningService is what the handlers need from the engine
type ScreeningService interface {
	Screen(ctx context.Context, req *aml.ScreeningRequest) (*aml.ScreeningResult, error)
	ScreeningHistory(ctx context.Context, userID string, limit int) ([]aml.ScreeningResult, error)
	CurrentAssessment(ctx context.Context, userID string) (*aml.RiskAssessment, error)
	AssessmentHistory(ctx context.Context, userID string, limit int) ([]aml.RiskAssessment, error)
	Override(ctx context.Context, req aml.ScoreOverrideRequest) (*aml.RiskAssessment, error)
	Matrix() *matrix.RiskMatrix
	UpdateMatrix(ctx context.Context, next *matrix.RiskMatrix, by string) (*matrix.RiskMatrix, error)
	Alerts(ctx context.Context, userID string, statuses []aml.AlertStatus, limit int) ([]aml.Alert, error)
	ResolveAlert(ctx context.Context, alertID uuid.UUID, req aml.ResolveAlertRequest) (*aml.Alert, error)
	Sources() []aml.SourceKind
}

// ListRefresher reloads reference data on demand
type ListRefresher interface {
	Refresh(ctx context.Context, feedID string) (screening.FeedStatus, error)
	RefreshKind(ctx context.Context, kind aml.SourceKind) error
	Status() []screening.FeedStatus
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config is the HTTP listener configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	ServiceName     string
}

// Server represents the HTTP server
type Server struct {
	logger    *zap.Logger
	config    Config
	service   ScreeningService
	refresher ListRefresher
	health    map[string]Pinger
	auth      *Authenticator
	router    *gin.Engine
	http      *http.Server
}

// NewServer creates the server and its routes. refresher may be nil when no feeds are configured.
func NewServer(logger *zap.Logger, config Config, service ScreeningService, refresher ListRefresher, auth *Authenticator, health map[string]Pinger) *Server {
	binding.Validator = validation.New("binding").StructValidator()

	s := &Server{
		logger:    logger,
		config:    config,
		service:   service,
		refresher: refresher,
		health:    health,
		auth:      auth,
	}
	s.router = s.newRouter()
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.serviceName()))

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/aml", s.auth.Middleware())
	{
		v1.POST("/screen", RequirePermission(PermScreen), s.handleScreen)
		v1.GET("/screen/history/:userId", RequirePermission(PermRead), s.handleScreenHistory)

		risk := v1.Group("/risk")
		{
			risk.GET("/score/:userId", RequirePermission(PermRead), s.handleRiskScore)
			risk.GET("/history/:userId", RequirePermission(PermRead), s.handleRiskHistory)
			risk.POST("/score/update", RequirePermission(PermAdmin), s.handleOverride)
			risk.GET("/matrix", RequirePermission(PermRead), s.handleGetMatrix)
			risk.POST("/matrix/update", RequirePermission(PermAdmin), s.handleUpdateMatrix)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("/:userId", RequirePermission(PermRead), s.handleAlerts)
			alerts.POST("/:alertId/resolve", RequirePermission(PermReview), s.handleResolveAlert)
		}

		v1.POST("/lists/:list/refresh", RequirePermission(PermAdmin), s.handleRefreshList)
		v1.GET("/lists/status", RequirePermission(PermRead), s.handleListStatus)
	}

	return router
}

func (s *Server) serviceName() string {
	if s.config.ServiceName != "" {
		return s.config.ServiceName
	}
	return "amlscreen"
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.config.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
