package queue

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
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

func TestQueue_EnqueueTx(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	q := New(nil, "pipeline_jobs", 0)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`INSERT INTO "pipeline_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow(int64(42)))
	sqlMock.ExpectExec(`SELECT pg_notify\(\$1, ''\)`).
		WithArgs("pipeline_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		return q.EnqueueTx(tx, 1, 7, "analyze_files", true)
	})
	assert.NoError(t, err)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestQueue_EnqueueTxRollsBackOnInsertError(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	q := New(nil, "pipeline_jobs", 0)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`INSERT INTO "pipeline_jobs"`).
		WillReturnError(assert.AnError)
	sqlMock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		return q.EnqueueTx(tx, 1, 7, "analyze_files", false)
	})
	assert.Error(t, err)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
