package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/filestore"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
)

// maxUploadMemory bounds the in-memory part of multipart parsing;
// larger files spill to disk.
const maxUploadMemory = 32 << 20

// UploadRouter puts user-collected source files into the run folder.
type UploadRouter struct {
	files *filestore.Service
	rs    *service.RunService
}

// NewUploadRouter creates a new UploadRouter instance.
func NewUploadRouter(files *filestore.Service, rs *service.RunService) *UploadRouter {
	return &UploadRouter{files: files, rs: rs}
}

// Register mounts the upload route on the given group.
func (ur *UploadRouter) Register(g *gin.RouterGroup) {
	g.POST("/uploads/:runId", ur.HandleUpload)
}

// HandleUpload handles POST /api/uploads/{runId} with a multipart
// "file" part. The caller must own the run's current stage slot.
func (ur *UploadRouter) HandleUpload(c *gin.Context) {
	runID, ok := pathID(c, "runId")
	if !ok {
		return
	}
	if err := ur.rs.CheckOwnership(c.Request.Context(), auth.FromContext(c), runID); err != nil {
		writeError(c, err)
		return
	}

	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(c, apperr.BadRequest("failed to parse multipart form"))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, apperr.BadRequest("file is required"))
		return
	}
	defer file.Close()

	if err := ur.files.Save(c.Request.Context(), runID, header.Filename, file); err != nil {
		writeError(c, apperr.Wrap(apperr.KindStorage, err, "upload failed"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": "Uploaded " + header.Filename})
}
