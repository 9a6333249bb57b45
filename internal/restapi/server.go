// Package restapi exposes the orchestrator's REST surface over gin-gonic/gin
// (spec §6). Route shapes are grounded on original_source/services/
// orchestrator/main.go's setupRoutes and internal/coordinator/coordinator.go's
// gin handlers; health/metrics endpoint naming follows internal/http/
// server.go's healthHandler convention, generalized from GoFlow's single
// /workflows resource to the five orchestrator resources.
package restapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignatij/orchestrator/internal/coordinator"
	"github.com/ignatij/orchestrator/internal/gateway"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/orcherrors"
	"github.com/ignatij/orchestrator/pkg/models"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	coord *coordinator.Coordinator
	sched Scheduler
	gw    *gateway.Gateway
	engine *gin.Engine
}

// Scheduler is the narrow slice of internal/scheduler.Scheduler the REST
// surface needs for /api/v1/schedules.
type Scheduler interface {
	AddSchedule(sched models.Schedule) (models.Schedule, error)
	RemoveSchedule(id string) error
	GetSchedule(id string) (models.Schedule, error)
	ListSchedules() []models.Schedule
}

func New(coord *coordinator.Coordinator, sched Scheduler, gw *gateway.Gateway) *Server {
	s := &Server{coord: coord, sched: sched, gw: gw, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", s.gw.HandleWebSocket)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/agents", s.createAgent)
		v1.GET("/agents", s.listAgents)
		v1.GET("/agents/:id", s.getAgent)
		v1.PUT("/agents/:id", s.updateAgent)
		v1.DELETE("/agents/:id", s.deleteAgent)

		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:id", s.getTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)

		v1.POST("/workflows", s.createWorkflow)
		v1.GET("/workflows", s.listWorkflows)
		v1.GET("/workflows/:id", s.getWorkflow)
		v1.POST("/workflows/:id/execute", s.executeWorkflow)

		v1.POST("/schedules", s.createSchedule)
		v1.GET("/schedules", s.listSchedules)
		v1.GET("/schedules/:id", s.getSchedule)
		v1.DELETE("/schedules/:id", s.deleteSchedule)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// --- Agents ---

func (s *Server) createAgent(c *gin.Context) {
	var agent models.Agent
	if err := c.ShouldBindJSON(&agent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.coord.RegisterAgent(agent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.ListAgents())
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.coord.GetAgent(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.coord.UnregisterAgent(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// updateAgentRequest is the partial-update body for PUT /api/v1/agents/:id
// (spec §6: update status and/or metadata).
type updateAgentRequest struct {
	Status   models.AgentStatus `json:"status"`
	Metadata map[string]string  `json:"metadata"`
}

func (s *Server) updateAgent(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if req.Status != "" {
		if err := s.coord.UpdateAgentStatus(id, req.Status); err != nil {
			writeError(c, err)
			return
		}
	}
	if len(req.Metadata) > 0 {
		if err := s.coord.UpdateAgentMetadata(id, req.Metadata); err != nil {
			writeError(c, err)
			return
		}
	}
	agent, err := s.coord.GetAgent(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// --- Tasks ---

func (s *Server) createTask(c *gin.Context) {
	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.coord.SubmitTask(task)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listTasks(c *gin.Context) {
	filter := coordinator.TaskFilter{
		Status:     models.TaskStatus(c.Query("status")),
		AgentID:    c.Query("agent_id"),
		WorkflowID: c.Query("workflow_id"),
	}
	c.JSON(http.StatusOK, s.coord.ListTasks(filter))
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.coord.GetTask(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.coord.CancelTask(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Workflows ---

func (s *Server) createWorkflow(c *gin.Context) {
	var wf models.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.coord.SubmitWorkflow(wf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.ListWorkflows())
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.coord.GetWorkflow(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) executeWorkflow(c *gin.Context) {
	if err := s.coord.ExecuteWorkflow(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// --- Schedules ---

func (s *Server) createSchedule(c *gin.Context) {
	var sched models.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.sched.AddSchedule(sched)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.ListSchedules())
}

func (s *Server) getSchedule(c *gin.Context) {
	sched, err := s.sched.GetSchedule(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.sched.RemoveSchedule(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps the orchestrator's error taxonomy (spec §7) to HTTP status.
func writeError(c *gin.Context, err error) {
	log.Component("restapi").WithError(err).Warn("request failed")
	switch {
	case errors.Is(err, orcherrors.NotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orcherrors.InvalidState), errors.Is(err, orcherrors.Invalid):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orcherrors.QueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
