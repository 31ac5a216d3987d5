package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
)

// RunRouter serves the workflow-stage views: operations, actions, run
// lists and stage pickup.
type RunRouter struct {
	rs *service.RunService
}

// NewRunRouter creates a new RunRouter instance.
func NewRunRouter(rs *service.RunService) *RunRouter {
	return &RunRouter{rs: rs}
}

// Register mounts the run routes on the given group.
func (rr *RunRouter) Register(g *gin.RouterGroup) {
	g.GET("/operations", rr.HandleListOperations)
	g.GET("/actions", rr.HandleListActions)
	g.GET("/pipeline-runs/:code", rr.HandleListRuns)
	g.POST("/pipeline-runs/pickup/:runId", rr.HandlePickup)
}

// HandleListOperations handles GET /api/operations.
func (rr *RunRouter) HandleListOperations(c *gin.Context) {
	operations, err := rr.rs.ListOperations(c.Request.Context(), auth.FromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, operations)
}

// HandleListActions handles GET /api/actions.
func (rr *RunRouter) HandleListActions(c *gin.Context) {
	actions, err := rr.rs.ListActions(c.Request.Context(), auth.FromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// HandleListRuns handles GET /api/pipeline-runs/{code}.
// Optional query params: offset, limit.
func (rr *RunRouter) HandleListRuns(c *gin.Context) {
	offset, limit := pagination(c)
	runs, err := rr.rs.ListRuns(c.Request.Context(), auth.FromContext(c), c.Param("code"), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// HandlePickup handles POST /api/pipeline-runs/pickup/{runId}.
func (rr *RunRouter) HandlePickup(c *gin.Context) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	if err := rr.rs.Pickup(c.Request.Context(), auth.FromContext(c), runID); err != nil {
		writeError(c, err)
		return
	}
	writeSuccess(c, "Picked up")
}
