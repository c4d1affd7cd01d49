package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// taskRequest is the mutable surface of a task exposed over the API.
type taskRequest struct {
	Name                string             `json:"name" binding:"required"`
	Description         string             `json:"description"`
	URLs                []patrol.PatrolURL `json:"urls" binding:"required,min=1"`
	NotificationTargets []string           `json:"notification_targets"`
	Schedule            string             `json:"schedule"`
	Enabled             *bool              `json:"enabled"`
	Config              patrol.Config      `json:"config"`
}

func (r *taskRequest) apply(t *patrol.Task) {
	t.Name = r.Name
	t.Description = r.Description
	t.URLs = r.URLs
	t.NotificationTargets = r.NotificationTargets
	t.Schedule = r.Schedule
	t.Enabled = r.Enabled == nil || *r.Enabled
	t.Config = r.Config
}

func (s *Server) validateSchedule(spec string) error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Validate(spec)
}

// syncSchedules reconciles cron entries after a task mutation. Best
// effort; the mutation already succeeded.
func (s *Server) syncSchedules(c *gin.Context) {
	if s.sched == nil {
		return
	}
	if err := s.sched.Sync(c.Request.Context()); err != nil {
		s.log.Warn("schedule sync after task change failed", zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func (s *Server) createTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validateSchedule(req.Schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var task patrol.Task
	req.apply(&task)
	created, err := s.svc.CreateTask(c.Request.Context(), &task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.syncSchedules(c)
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listTasks(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"
	tasks, err := s.svc.ListTasks(c.Request.Context(), enabledOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []*patrol.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validateSchedule(req.Schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := s.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	req.apply(existing)
	updated, err := s.svc.UpdateTask(c.Request.Context(), existing)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.syncSchedules(c)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.svc.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.syncSchedules(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) executeTask(c *gin.Context) {
	execID, err := s.svc.ExecutePatrol(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case isNotFound(err):
			status = http.StatusNotFound
		case strings.Contains(err.Error(), "disabled"):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": execID})
}

func (s *Server) listExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	execs, err := s.svc.GetExecutionHistory(c.Request.Context(), c.Query("task_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if execs == nil {
		execs = []*patrol.Execution{}
	}
	c.JSON(http.StatusOK, execs)
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.svc.GetExecutionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if exec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// streamEvents pushes lifecycle events to the client as server-sent
// events until the client disconnects or the bus closes.
func (s *Server) streamEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream not enabled"})
		return
	}
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
