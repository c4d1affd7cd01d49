// Package api exposes the patrol engine over HTTP: task CRUD, manual
// execution, execution history, and a live event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webpatrol/internal/events"
	"webpatrol/internal/patrol"
)

// PatrolService is the slice of the engine the handlers need.
type PatrolService interface {
	CreateTask(ctx context.Context, task *patrol.Task) (*patrol.Task, error)
	UpdateTask(ctx context.Context, task *patrol.Task) (*patrol.Task, error)
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*patrol.Task, error)
	ListTasks(ctx context.Context, enabledOnly bool) ([]*patrol.Task, error)
	ExecutePatrol(ctx context.Context, taskID string) (string, error)
	GetExecutionHistory(ctx context.Context, taskID string, limit int) ([]*patrol.Execution, error)
	GetExecutionDetail(ctx context.Context, executionID string) (*patrol.Execution, error)
}

// ScheduleSync validates cron expressions and reconciles the scheduler
// after task mutations.
type ScheduleSync interface {
	Validate(spec string) error
	Sync(ctx context.Context) error
}

// Server wires the HTTP routes to the patrol service.
type Server struct {
	svc   PatrolService
	sched ScheduleSync
	bus   *events.Bus
	log   *zap.Logger
}

// NewServer builds the API server. sched and bus may be nil; schedule
// validation and the event stream are then disabled.
func NewServer(svc PatrolService, sched ScheduleSync, bus *events.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, sched: sched, bus: bus, log: log}
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/patrol")
	{
		api.POST("/tasks", s.createTask)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/:id", s.getTask)
		api.PUT("/tasks/:id", s.updateTask)
		api.DELETE("/tasks/:id", s.deleteTask)
		api.POST("/tasks/:id/execute", s.executeTask)

		api.GET("/executions", s.listExecutions)
		api.GET("/executions/:id", s.getExecution)

		api.GET("/events", s.streamEvents)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
