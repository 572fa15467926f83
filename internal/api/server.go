// Package api exposes the protocol workflow over REST: create a workflow,
// watch it run, and drive the halt/approve protocol.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"protocol-foundry/backend/internal/engine"
	"protocol-foundry/backend/internal/logging"
	"protocol-foundry/backend/internal/repository"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine      *engine.Engine
	Checkpoints repository.CheckpointStore
	History     repository.HistoryStore
	Classifier  *engine.IntentClassifier
	Client      engine.CompletionClient
	Logger      *logging.Logger

	// MaxIterations seeds new workflows with the configured iteration
	// ceiling.
	MaxIterations int
	// Degraded is surfaced on the health endpoint when the service is
	// running on the in-memory store.
	Degraded bool
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, stores *repository.Stores, classifier *engine.IntentClassifier, client engine.CompletionClient, logger *logging.Logger, maxIterations int) *Server {
	return &Server{
		Engine:        eng,
		Checkpoints:   stores.Checkpoints,
		History:       stores.History,
		Classifier:    classifier,
		Client:        client,
		Logger:        logger,
		MaxIterations: maxIterations,
		Degraded:      stores.Degraded,
	}
}

// NewEcho builds the echo instance with middleware and all routes
// registered. guard, when non-nil, protects the API group.
func (s *Server) NewEcho(guard echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = ProblemHandler(s.Logger)
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("protocol-foundry"))

	e.GET("/health", s.HandleHealth)

	v1 := e.Group("/api/v1")
	if guard != nil {
		v1.Use(guard)
	}
	v1.POST("/protocols", s.CreateProtocol)
	v1.GET("/protocols", s.ListProtocols)
	v1.GET("/protocols/similar", s.SimilarProtocols)
	v1.GET("/protocols/:id", s.GetProtocol)
	v1.POST("/protocols/:id/run", s.RunProtocol)
	v1.GET("/protocols/:id/stream", s.StreamProtocol)
	v1.POST("/protocols/:id/halt", s.HaltProtocol)
	v1.POST("/protocols/:id/approve", s.ApproveProtocol)
	v1.POST("/protocols/:id/answers", s.AnswerQuestions)
	v1.GET("/history", s.ListHistory)

	return e
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// HandleHealth reports liveness. Degraded mode still answers ok: the
// service works, it just will not survive a restart.
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Degraded:  s.Degraded,
		Timestamp: time.Now().UTC(),
		Service:   "protocol-foundry",
	})
}
