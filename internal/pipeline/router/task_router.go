package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
)

// TaskRouter serves the task list and the run/run-all/reset commands.
type TaskRouter struct {
	ts *service.TaskService
}

// NewTaskRouter creates a new TaskRouter instance.
func NewTaskRouter(ts *service.TaskService) *TaskRouter {
	return &TaskRouter{ts: ts}
}

// Register mounts the task routes on the given group.
func (tr *TaskRouter) Register(g *gin.RouterGroup) {
	g.GET("/pipeline-run-tasks/:runId", tr.HandleListTasks)
	g.POST("/run-task/:runId/:prTaskId", tr.HandleRunTask)
	g.POST("/run-all/:runId/:prTaskId", tr.HandleRunAll)
	g.POST("/reset-task/:runId/:prTaskId", tr.HandleResetTask)
	g.GET("/task-status", tr.HandleTaskStatus)
}

// HandleListTasks handles GET /api/pipeline-run-tasks/{runId}.
func (tr *TaskRouter) HandleListTasks(c *gin.Context) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	tasks, err := tr.ts.GetOrderedTasks(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// HandleRunTask handles POST /api/run-task/{runId}/{prTaskId}.
func (tr *TaskRouter) HandleRunTask(c *gin.Context) {
	tr.runTask(c, false)
}

// HandleRunAll handles POST /api/run-all/{runId}/{prTaskId}. The chain
// flag travels with the job so each completed system task schedules
// its successor.
func (tr *TaskRouter) HandleRunAll(c *gin.Context) {
	tr.runTask(c, true)
}

func (tr *TaskRouter) runTask(c *gin.Context, runNext bool) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	prTaskID, ok := pathID(c, "prTaskId")
	if !ok {
		return
	}

	message, err := tr.ts.RunTask(c.Request.Context(), auth.FromContext(c), runID, prTaskID, runNext)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSuccess(c, message)
}

// HandleResetTask handles POST /api/reset-task/{runId}/{prTaskId}.
func (tr *TaskRouter) HandleResetTask(c *gin.Context) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	prTaskID, ok := pathID(c, "prTaskId")
	if !ok {
		return
	}

	if err := tr.ts.ResetTask(c.Request.Context(), auth.FromContext(c), runID, prTaskID); err != nil {
		writeError(c, err)
		return
	}
	writeSuccess(c, "Reset")
}

// HandleTaskStatus handles GET /api/task-status?prTaskId={id}.
func (tr *TaskRouter) HandleTaskStatus(c *gin.Context) {
	prTaskID, err := strconv.ParseInt(c.Query("prTaskId"), 10, 64)
	if err != nil {
		writeError(c, apperr.BadRequest("invalid prTaskId query parameter"))
		return
	}

	status, err := tr.ts.GetStatus(c.Request.Context(), prTaskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.TaskStatusResponse{Status: status})
}
