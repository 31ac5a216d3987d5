// Package router exposes the pipeline engine over HTTP. Command
// endpoints answer {"success": msg} or {"error": msg}; reads answer
// plain JSON. Authorization beyond token resolution lives in the
// services, which receive the request principal explicitly.
package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/utils"
)

// writeError maps a classified error to its HTTP status and wire shape.
func writeError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

// writeSuccess answers a command endpoint.
func writeSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"success": message})
}

// pathID parses a numeric path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		writeError(c, apperr.BadRequest("invalid "+name+" path parameter"))
		return 0, false
	}
	return id, true
}

// pagination reads the optional offset/limit query parameters.
func pagination(c *gin.Context) (int, int) {
	var offset, limit *int
	if raw := c.Query("offset"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			offset = &value
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			limit = &value
		}
	}
	return utils.GetPaginationParams(offset, limit)
}

// formMap flattens the request's form and query parameters into the
// map the source-table service consumes. Posted form values win over
// query values of the same name.
func formMap(c *gin.Context) map[string]string {
	form := make(map[string]string)
	for name, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			form[name] = values[0]
		}
	}
	if err := c.Request.ParseForm(); err == nil {
		for name, values := range c.Request.PostForm {
			if len(values) > 0 {
				form[name] = values[0]
			}
		}
	}
	return form
}
