package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
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

func adminPrincipal() *auth.Principal {
	return &auth.Principal{UserID: 1, Username: "admin", Roles: []string{model.AdminRole}}
}

func newTaskService(db *gorm.DB) *TaskService {
	return NewTaskService(db, queue.New(nil, "pipeline_jobs", 0), task.NewRegistry(&task.Env{}))
}

func TestRunTask_RejectsWhenSiblingActive(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := newTaskService(db)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state"}).
			AddRow(int64(7), model.WorkflowCodeLoad, "Active"))
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_run_tasks" WHERE run_id = \$1 ORDER BY workflow_order, pr_task_id FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"pr_task_id", "run_id", "task_id", "task_status"}).
			AddRow(int64(20), int64(7), int64(4), string(model.TaskStatusRunning)).
			AddRow(int64(21), int64(7), int64(5), string(model.TaskStatusWaiting)))
	sqlMock.ExpectRollback()

	_, err := s.RunTask(context.Background(), adminPrincipal(), 7, 21, false)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "Task already running", apperr.Message(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRunTask_TargetMustBeWaiting(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := newTaskService(db)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state"}).
			AddRow(int64(7), model.WorkflowCodeLoad, "Active"))
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_run_tasks" WHERE run_id = \$1 ORDER BY workflow_order, pr_task_id FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"pr_task_id", "run_id", "task_id", "task_status"}).
			AddRow(int64(21), int64(7), int64(5), string(model.TaskStatusFailed)))
	sqlMock.ExpectRollback()

	_, err := s.RunTask(context.Background(), adminPrincipal(), 7, 21, false)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRunTask_RequiresPrincipal(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := newTaskService(db)

	sqlMock.ExpectBegin()
	sqlMock.ExpectRollback()

	_, err := s.RunTask(context.Background(), nil, 7, 21, false)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestGetStatus_NotFound(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := newTaskService(db)

	sqlMock.ExpectQuery(`SELECT "task_status" FROM "pipeline_run_tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"task_status"}))

	_, err := s.GetStatus(context.Background(), 99)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestCheckUserRun_NonOwnerRejected(t *testing.T) {
	db, sqlMock := setupTestDB(t)

	owner := int64(42)
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state", "collection_user_id"}).
			AddRow(int64(7), model.WorkflowCodeCollection, "Active", owner))

	principal := &auth.Principal{UserID: 9, Username: "carol", Roles: []string{model.WorkflowCodeCollection}}
	_, err := checkUserRun(db, 7, principal)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestCheckUserRun_OwnerAllowed(t *testing.T) {
	db, sqlMock := setupTestDB(t)

	owner := int64(9)
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state", "collection_user_id"}).
			AddRow(int64(7), model.WorkflowCodeCollection, "Active", owner))

	principal := &auth.Principal{UserID: 9, Username: "carol", Roles: []string{model.WorkflowCodeCollection}}
	run, err := checkUserRun(db, 7, principal)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), run.RunID)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPickup_SecondClaimConflicts(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := NewRunService(db)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1 .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state"}).
			AddRow(int64(7), model.WorkflowCodeCollection, "Ready"))
	sqlMock.ExpectExec(`UPDATE "pipeline_runs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectRollback()

	principal := &auth.Principal{UserID: 9, Username: "carol", Roles: []string{model.WorkflowCodeCollection}}
	err := s.Pickup(context.Background(), principal, 7)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPickup_RequiresStageRole(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	s := NewRunService(db)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_runs" WHERE run_id = \$1 .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "workflow_operation", "operation_state"}).
			AddRow(int64(7), model.WorkflowCodeQA, "Ready"))
	sqlMock.ExpectRollback()

	principal := &auth.Principal{UserID: 9, Username: "carol", Roles: []string{model.WorkflowCodeCollection}}
	err := s.Pickup(context.Background(), principal, 7)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestSourceTableFromForm(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"table_name": "PRICES",
			"file_id":    "F1",
			"file_name":  "prices.csv",
		}
	}

	t.Run("flat defaults", func(t *testing.T) {
		table, err := sourceTableFromForm(7, base())
		assert.NoError(t, err)
		assert.Equal(t, model.LoaderTypeFlat, table.LoaderType)
		assert.Equal(t, ",", *table.Delimiter)
		assert.Equal(t, "utf-8", table.Encoding)
		assert.Equal(t, model.CollectTypeDownload, table.CollectType)
		assert.Nil(t, table.SubTable)
		assert.Nil(t, table.URL)
	})

	t.Run("excel requires sub table", func(t *testing.T) {
		form := base()
		form["file_name"] = "prices.xlsx"
		_, err := sourceTableFromForm(7, form)
		assert.Error(t, err)
		assert.Equal(t, "Sub Table must be not null", apperr.Message(err))

		form["sub_table"] = "Sheet1"
		table, err := sourceTableFromForm(7, form)
		assert.NoError(t, err)
		assert.Equal(t, model.LoaderTypeExcel, table.LoaderType)
		assert.Equal(t, "Sheet1", *table.SubTable)
	})

	t.Run("checkbox flags", func(t *testing.T) {
		form := base()
		form["qualified"] = "on"
		form["analyze"] = "on"
		form["load"] = ""
		table, err := sourceTableFromForm(7, form)
		assert.NoError(t, err)
		assert.True(t, table.Qualified)
		assert.True(t, table.Analyze)
		assert.False(t, table.Load)
	})

	t.Run("rejects bad fields", func(t *testing.T) {
		cases := []struct {
			field, value string
		}{
			{"table_name", ""},
			{"table_name", "prices"},
			{"table_name", "1PRICES"},
			{"file_id", ""},
			{"file_id", "G1"},
			{"file_name", ""},
			{"file_name", "prices.pdf"},
			{"delimiter", "||"},
			{"collect_type", "Scraped"},
		}
		for _, tc := range cases {
			form := base()
			form[tc.field] = tc.value
			_, err := sourceTableFromForm(7, form)
			assert.Error(t, err, "%s=%q", tc.field, tc.value)
			assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), "%s=%q", tc.field, tc.value)
		}
	})

	t.Run("blank optionals stay null", func(t *testing.T) {
		form := base()
		form["url"] = "   "
		form["comments"] = ""
		table, err := sourceTableFromForm(7, form)
		assert.NoError(t, err)
		assert.Nil(t, table.URL)
		assert.Nil(t, table.Comments)
	})
}

func TestFormIdentifiers(t *testing.T) {
	_, err := formRunID(map[string]string{})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = formRunID(map[string]string{"run_id": "seven"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	runID, err := formRunID(map[string]string{"run_id": "7"})
	assert.NoError(t, err)
	assert.Equal(t, int64(7), runID)

	_, err = formStOID(map[string]string{"st_oid": ""})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	stOID, err := formStOID(map[string]string{"st_oid": "12"})
	assert.NoError(t, err)
	assert.Equal(t, int64(12), stOID)
}
