package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/auth"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

var (
	tableNamePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	fileIDPattern    = regexp.MustCompile(`^F\d+$`)
)

// SourceTableService manages the file-to-table mappings users declare
// during the collection stage. Write operations take a loose form map
// and translate it to typed values; unknown fields are ignored.
type SourceTableService struct {
	db *gorm.DB
}

// NewSourceTableService creates a new SourceTableService instance.
func NewSourceTableService(db *gorm.DB) *SourceTableService {
	return &SourceTableService{db: db}
}

// List returns a run's source tables with their analyzed columns.
func (s *SourceTableService) List(ctx context.Context, runID int64) ([]model.SourceTable, error) {
	if _, err := getRun(s.db.WithContext(ctx), runID); err != nil {
		return nil, err
	}

	var tables []model.SourceTable
	err := s.db.WithContext(ctx).
		Preload("Columns", func(db *gorm.DB) *gorm.DB { return db.Order("column_index") }).
		Where("run_id = ?", runID).
		Order("table_name").
		Find(&tables).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list source tables")
	}
	return tables, nil
}

// Create inserts a source table from the form map.
func (s *SourceTableService) Create(ctx context.Context, principal *auth.Principal, form map[string]string) (*model.SourceTableResult, error) {
	runID, err := formRunID(form)
	if err != nil {
		return nil, err
	}

	table, err := sourceTableFromForm(runID, form)
	if err != nil {
		return nil, err
	}

	var result model.SourceTableResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkUserRun(tx, runID, principal); err != nil {
			return err
		}
		created := tx.Create(table)
		if created.Error != nil {
			return apperr.Storage(created.Error, "failed to create source table")
		}
		result = model.SourceTableResult{StOID: table.StOID, RowsAffected: created.RowsAffected}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Update rewrites a source table from the form map.
func (s *SourceTableService) Update(ctx context.Context, principal *auth.Principal, form map[string]string) (*model.SourceTableResult, error) {
	runID, err := formRunID(form)
	if err != nil {
		return nil, err
	}
	stOID, err := formStOID(form)
	if err != nil {
		return nil, err
	}

	table, err := sourceTableFromForm(runID, form)
	if err != nil {
		return nil, err
	}

	var result model.SourceTableResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkUserRun(tx, runID, principal); err != nil {
			return err
		}
		updated := tx.Model(&model.SourceTable{}).
			Where("st_oid = ? AND run_id = ?", stOID, runID).
			Updates(map[string]any{
				"table_name":   table.Name,
				"file_id":      table.FileID,
				"file_name":    table.FileName,
				"loader_type":  table.LoaderType,
				"sub_table":    table.SubTable,
				"delimiter":    table.Delimiter,
				"qualified":    table.Qualified,
				"encoding":     table.Encoding,
				"collect_type": table.CollectType,
				"analyze":      table.Analyze,
				"load":         table.Load,
				"url":          table.URL,
				"comments":     table.Comments,
			})
		if updated.Error != nil {
			return apperr.Storage(updated.Error, "failed to update source table")
		}
		if updated.RowsAffected == 0 {
			return apperr.NotFound(fmt.Sprintf("source table %d not found in run %d", stOID, runID))
		}
		result = model.SourceTableResult{StOID: stOID, RowsAffected: updated.RowsAffected}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete removes a source table and, via cascade, its column stats.
func (s *SourceTableService) Delete(ctx context.Context, principal *auth.Principal, form map[string]string) (*model.SourceTableResult, error) {
	runID, err := formRunID(form)
	if err != nil {
		return nil, err
	}
	stOID, err := formStOID(form)
	if err != nil {
		return nil, err
	}

	var result model.SourceTableResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := checkUserRun(tx, runID, principal); err != nil {
			return err
		}
		deleted := tx.Where("st_oid = ? AND run_id = ?", stOID, runID).Delete(&model.SourceTable{})
		if deleted.Error != nil {
			return apperr.Storage(deleted.Error, "failed to delete source table")
		}
		if deleted.RowsAffected == 0 {
			return apperr.NotFound(fmt.Sprintf("source table %d not found in run %d", stOID, runID))
		}
		result = model.SourceTableResult{StOID: stOID, RowsAffected: deleted.RowsAffected}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func formRunID(form map[string]string) (int64, error) {
	raw, ok := form["run_id"]
	if !ok || raw == "" {
		return 0, apperr.BadRequest("run_id is required")
	}
	runID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest(fmt.Sprintf("run_id %q is not numeric", raw))
	}
	return runID, nil
}

func formStOID(form map[string]string) (int64, error) {
	raw, ok := form["st_oid"]
	if !ok || raw == "" {
		return 0, apperr.BadRequest("st_oid is required")
	}
	stOID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest(fmt.Sprintf("st_oid %q is not numeric", raw))
	}
	return stOID, nil
}

// sourceTableFromForm applies the per-field translation rules. The
// loader type derives from the file name's extension, and the fields
// it implies (sub-table, delimiter) are validated against it.
func sourceTableFromForm(runID int64, form map[string]string) (*model.SourceTable, error) {
	tableName := strings.TrimSpace(form["table_name"])
	if tableName == "" {
		return nil, apperr.BadRequest("Table Name must be not null")
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, apperr.BadRequest(fmt.Sprintf("table name %q must be uppercase letters, digits and underscores", tableName))
	}

	fileID := strings.TrimSpace(form["file_id"])
	if fileID == "" {
		return nil, apperr.BadRequest("File ID must be not null")
	}
	if !fileIDPattern.MatchString(fileID) {
		return nil, apperr.BadRequest(fmt.Sprintf("file id %q does not match F<number>", fileID))
	}

	fileName := strings.TrimSpace(form["file_name"])
	if fileName == "" {
		return nil, apperr.BadRequest("File Name must be not null")
	}
	loaderType, err := model.LoaderTypeForFile(fileName)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}

	subTable := nullIfBlank(form["sub_table"])
	if loaderType.MultiTable() && subTable == nil {
		return nil, apperr.BadRequest("Sub Table must be not null")
	}

	delimiter := nullIfBlank(form["delimiter"])
	if delimiter != nil && len([]rune(*delimiter)) != 1 {
		return nil, apperr.BadRequest(fmt.Sprintf("delimiter %q must be a single character", *delimiter))
	}
	if loaderType == model.LoaderTypeFlat && delimiter == nil {
		comma := ","
		delimiter = &comma
	}

	collectType := model.CollectTypeDownload
	if raw := strings.TrimSpace(form["collect_type"]); raw != "" {
		collectType, err = model.ParseCollectType(raw)
		if err != nil {
			return nil, apperr.BadRequest(err.Error())
		}
	}

	encoding := strings.TrimSpace(form["encoding"])
	if encoding == "" {
		encoding = "utf-8"
	}

	return &model.SourceTable{
		RunID:       runID,
		Name:        tableName,
		FileID:      fileID,
		FileName:    fileName,
		LoaderType:  loaderType,
		SubTable:    subTable,
		Delimiter:   delimiter,
		Qualified:   form["qualified"] == "on",
		Encoding:    encoding,
		CollectType: collectType,
		Analyze:     form["analyze"] == "on",
		Load:        form["load"] == "on",
		URL:         nullIfBlank(form["url"]),
		Comments:    nullIfBlank(form["comments"]),
	}, nil
}

func nullIfBlank(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
