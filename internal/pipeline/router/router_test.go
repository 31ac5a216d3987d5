package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/pipeline/service"
	"github.com/OpenPipe/pipeline/internal/queue"
	"github.com/OpenPipe/pipeline/internal/task"
)

func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	assert.NoError(t, err)
	return gormDB, mock
}

func testEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestFormMap_PostFormWinsOverQuery(t *testing.T) {
	engine := testEngine()
	var got map[string]string
	engine.POST("/form", func(c *gin.Context) {
		got = formMap(c)
		c.Status(http.StatusOK)
	})

	body := strings.NewReader("table_name=PRICES&run_id=7")
	req := httptest.NewRequest(http.MethodPost, "/form?run_id=9&file_id=F1", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	engine.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "7", got["run_id"])
	assert.Equal(t, "PRICES", got["table_name"])
	assert.Equal(t, "F1", got["file_id"])
}

func TestTaskStatus_BadQueryParam(t *testing.T) {
	db, _ := setupTestDB(t)
	tr := NewTaskRouter(service.NewTaskService(db, queue.New(nil, "pipeline_jobs", 0), task.NewRegistry(&task.Env{})))

	engine := testEngine()
	tr.Register(engine.Group("/api"))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/task-status?prTaskId=seven", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestTaskStatus_OK(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	tr := NewTaskRouter(service.NewTaskService(db, queue.New(nil, "pipeline_jobs", 0), task.NewRegistry(&task.Env{})))

	sqlMock.ExpectQuery(`SELECT "task_status" FROM "pipeline_run_tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_status"}).AddRow("Complete"))

	engine := testEngine()
	tr.Register(engine.Group("/api"))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/task-status?prTaskId=12", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Complete"}`, rec.Body.String())
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRunTask_NoPrincipalIsUnauthorized(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	tr := NewTaskRouter(service.NewTaskService(db, queue.New(nil, "pipeline_jobs", 0), task.NewRegistry(&task.Env{})))

	sqlMock.ExpectBegin()
	sqlMock.ExpectRollback()

	engine := testEngine()
	tr.Register(engine.Group("/api"))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run-task/7/21", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
