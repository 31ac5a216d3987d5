package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
)

// SourceTableRouter serves the file-to-table mapping CRUD. The write
// endpoints consume a flat form map from the request body or query.
type SourceTableRouter struct {
	sts *service.SourceTableService
}

// NewSourceTableRouter creates a new SourceTableRouter instance.
func NewSourceTableRouter(sts *service.SourceTableService) *SourceTableRouter {
	return &SourceTableRouter{sts: sts}
}

// Register mounts the source-table routes on the given group.
func (sr *SourceTableRouter) Register(g *gin.RouterGroup) {
	g.GET("/source-tables/:runId", sr.HandleList)
	g.POST("/source-tables", sr.HandleCreate)
	g.PATCH("/source-tables", sr.HandleUpdate)
	g.DELETE("/source-tables", sr.HandleDelete)
}

// HandleList handles GET /api/source-tables/{runId}.
func (sr *SourceTableRouter) HandleList(c *gin.Context) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	tables, err := sr.sts.List(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tables)
}

// HandleCreate handles POST /api/source-tables.
func (sr *SourceTableRouter) HandleCreate(c *gin.Context) {
	result, err := sr.sts.Create(c.Request.Context(), auth.FromContext(c), formMap(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// HandleUpdate handles PATCH /api/source-tables.
func (sr *SourceTableRouter) HandleUpdate(c *gin.Context) {
	result, err := sr.sts.Update(c.Request.Context(), auth.FromContext(c), formMap(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleDelete handles DELETE /api/source-tables.
func (sr *SourceTableRouter) HandleDelete(c *gin.Context) {
	result, err := sr.sts.Delete(c.Request.Context(), auth.FromContext(c), formMap(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
