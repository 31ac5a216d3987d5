package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/ingest"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// runScanSourceFolder indexes the run folder against the declared
// source tables. Missing files with a URL spawn a download child task;
// missing files without one fail the scan.
func runScanSourceFolder(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	var missingWithURL, missingWithoutURL []string
	for _, table := range tables {
		exists, err := env.Files.Exists(ctx, rec.RunID, table.FileName)
		if err != nil {
			return fmt.Errorf("check file %s: %w", table.FileName, err)
		}
		if exists {
			continue
		}
		if table.URL != nil && *table.URL != "" {
			missingWithURL = append(missingWithURL, table.FileName)
		} else {
			missingWithoutURL = append(missingWithoutURL, table.FileName)
		}
	}

	if len(missingWithoutURL) > 0 {
		return apperr.Newf(apperr.KindIngestion,
			"missing source files with no download URL: %s", strings.Join(missingWithoutURL, ", "))
	}
	if len(missingWithURL) > 0 {
		slog.InfoContext(ctx, "spawning download task",
			"run_id", rec.RunID, "missing", len(missingWithURL))
		return spawnChildTask(ctx, env.DB, rec, ClassDownloadMissingFiles)
	}
	return nil
}

// runDownloadMissingFiles fetches every missing URL-bearing source
// file into the run folder.
func runDownloadMissingFiles(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	for _, table := range tables {
		if table.URL == nil || *table.URL == "" {
			continue
		}
		exists, err := env.Files.Exists(ctx, rec.RunID, table.FileName)
		if err != nil {
			return fmt.Errorf("check file %s: %w", table.FileName, err)
		}
		if exists {
			continue
		}
		if err := env.Files.Download(ctx, rec.RunID, table.FileName, *table.URL); err != nil {
			return err
		}
	}
	return nil
}

// runConfirmCollection is the user sign-off that every declared source
// file is present.
func runConfirmCollection(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	var missing []string
	for _, table := range tables {
		exists, err := env.Files.Exists(ctx, rec.RunID, table.FileName)
		if err != nil {
			return fmt.Errorf("check file %s: %w", table.FileName, err)
		}
		if !exists {
			missing = append(missing, table.FileName)
		}
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.KindIngestion,
			"source files still missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// runAnalyzeFiles computes column statistics and record counts for
// every analyze-flagged source table, one file at a time.
func runAnalyzeFiles(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	for fileName, group := range groupByFile(tables, func(t *model.SourceTable) bool { return t.Analyze }) {
		specs := make([]ingest.AnalyzerSpec, len(group))
		for i, table := range group {
			specs[i] = ingest.AnalyzerSpec{
				StOID:     table.StOID,
				TableName: table.Name,
				SubTable:  stringValue(table.SubTable),
				Delimiter: delimiterOrDefault(table.Delimiter),
				Qualified: table.Qualified,
			}
		}

		path, cleanup, err := env.Files.Stage(ctx, rec.RunID, fileName)
		if err != nil {
			return err
		}
		err = ingest.Analyze(ctx, path, specs, func(result ingest.AnalyzeResult) error {
			return storeAnalyzeResult(ctx, env.DB, result)
		})
		cleanup()
		if err != nil {
			return fmt.Errorf("analyze %s: %w", fileName, err)
		}
		slog.InfoContext(ctx, "analyzed source file",
			"run_id", rec.RunID, "file", fileName, "tables", len(specs))
	}
	return nil
}

// runLoadFiles creates the destination tables and bulk-copies every
// load-flagged source table. All sub-tables of one file share a
// transaction, so a parse error rolls the whole file back.
func runLoadFiles(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	for fileName, group := range groupByFile(tables, func(t *model.SourceTable) bool { return t.Load }) {
		specs := make([]ingest.LoaderSpec, len(group))
		for i, table := range group {
			if len(table.Columns) == 0 {
				return apperr.Newf(apperr.KindIngestion,
					"table %s has no analyzed columns; run analyze first", table.Name)
			}
			names := make([]string, len(table.Columns))
			for j, column := range table.Columns {
				names[j] = column.Name
			}
			specs[i] = ingest.LoaderSpec{
				StOID:           table.StOID,
				TableName:       qualifiedTable(env.LoadSchema, table.Name),
				SubTable:        stringValue(table.SubTable),
				Delimiter:       delimiterOrDefault(table.Delimiter),
				Qualified:       table.Qualified,
				Columns:         names,
				CreateStatement: createStatement(env.LoadSchema, table.Name, table.Columns),
			}
		}

		path, cleanup, err := env.Files.Stage(ctx, rec.RunID, fileName)
		if err != nil {
			return err
		}
		counts, err := loadFileInTx(ctx, env, path, specs)
		cleanup()
		if err != nil {
			return fmt.Errorf("load %s: %w", fileName, err)
		}

		for stOID, count := range counts {
			if err := env.DB.WithContext(ctx).Model(&model.SourceTable{}).
				Where("st_oid = ?", stOID).
				Update("record_count", count).Error; err != nil {
				return apperr.Storage(err, "failed to persist record count")
			}
			slog.InfoContext(ctx, "loaded source table",
				"run_id", rec.RunID, "file", fileName, "st_oid", stOID, "records", count)
		}
	}
	return nil
}

// runValidateLoad reconciles the loaded tables' row counts against the
// persisted record counts.
func runValidateLoad(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	tables, err := runSourceTables(ctx, env.DB, rec.RunID)
	if err != nil {
		return err
	}

	var drift []string
	for _, table := range tables {
		if !table.Load || table.RecordCount == nil {
			continue
		}
		var count int64
		query := "SELECT count(*) FROM " + qualifiedTable(env.LoadSchema, table.Name)
		if err := env.Pool.QueryRow(ctx, query).Scan(&count); err != nil {
			return fmt.Errorf("count rows of %s: %w", table.Name, err)
		}
		if count != *table.RecordCount {
			drift = append(drift, fmt.Sprintf("%s expected %d got %d", table.Name, *table.RecordCount, count))
		}
	}
	if len(drift) > 0 {
		return apperr.Newf(apperr.KindIngestion, "record count drift: %s", strings.Join(drift, "; "))
	}
	return nil
}

// runConfirmQA is the user sign-off completing the run.
func runConfirmQA(ctx context.Context, env *Env, rec *model.PipelineRunTask) error {
	slog.InfoContext(ctx, "qa sign-off recorded", "run_id", rec.RunID, "pr_task_id", rec.PrTaskID)
	return nil
}

// runSourceTables loads a run's source tables with their analyzed
// columns in a stable order.
func runSourceTables(ctx context.Context, db *gorm.DB, runID int64) ([]model.SourceTable, error) {
	var tables []model.SourceTable
	err := db.WithContext(ctx).
		Preload("Columns", func(db *gorm.DB) *gorm.DB { return db.Order("column_index") }).
		Where("run_id = ?", runID).
		Order("st_oid").
		Find(&tables).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to load source tables")
	}
	return tables, nil
}

// groupByFile buckets the selected source tables by file name,
// preserving the table order inside each bucket.
func groupByFile(tables []model.SourceTable, selected func(*model.SourceTable) bool) map[string][]*model.SourceTable {
	groups := make(map[string][]*model.SourceTable)
	for i := range tables {
		table := &tables[i]
		if selected(table) {
			groups[table.FileName] = append(groups[table.FileName], table)
		}
	}
	return groups
}

// spawnChildTask inserts a child task right after its parent in the
// run's order. Listing sorts by (workflow_order, pr_task_id), so the
// child executes before any later seeded step.
func spawnChildTask(ctx context.Context, db *gorm.DB, parent *model.PipelineRunTask, class string) error {
	var catalog model.Task
	if err := db.WithContext(ctx).Where("task_class = ?", class).First(&catalog).Error; err != nil {
		return fmt.Errorf("look up task class %q: %w", class, err)
	}

	child := &model.PipelineRunTask{
		RunID:         parent.RunID,
		TaskID:        catalog.TaskID,
		WorkflowOrder: parent.WorkflowOrder,
		TaskStatus:    model.TaskStatusWaiting,
		ParentTaskID:  &parent.PrTaskID,
	}
	if err := db.WithContext(ctx).Create(child).Error; err != nil {
		return apperr.Storage(err, "failed to spawn child task")
	}
	return nil
}

func storeAnalyzeResult(ctx context.Context, db *gorm.DB, result ingest.AnalyzeResult) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("st_oid = ?", result.StOID).Delete(&model.SourceTableColumn{}).Error; err != nil {
			return apperr.Storage(err, "failed to clear column stats")
		}
		for _, stat := range result.Columns {
			column := &model.SourceTableColumn{
				StOID:       result.StOID,
				Name:        stat.Name,
				Type:        stat.Type,
				MaxLength:   stat.MaxLength,
				MinLength:   stat.MinLength,
				Label:       stat.Label,
				ColumnIndex: stat.Index,
			}
			if err := tx.Create(column).Error; err != nil {
				return apperr.Storage(err, "failed to store column stats")
			}
		}
		if err := tx.Model(&model.SourceTable{}).
			Where("st_oid = ?", result.StOID).
			Update("record_count", result.RecordCount).Error; err != nil {
			return apperr.Storage(err, "failed to store record count")
		}
		return nil
	})
}

// loadFileInTx drops stale destination tables and streams one file's
// sub-tables inside a single database transaction.
func loadFileInTx(ctx context.Context, env *Env, path string, specs []ingest.LoaderSpec) (map[int64]int64, error) {
	tx, err := env.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin load transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, spec := range specs {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+spec.TableName); err != nil {
			return nil, fmt.Errorf("drop stale table %s: %w", spec.TableName, err)
		}
	}

	counts, err := ingest.Load(ctx, tx, path, specs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit load transaction: %w", err)
	}
	return counts, nil
}

// createStatement synthesizes the destination DDL from the analyzed
// column stats.
func createStatement(schema, table string, columns []model.SourceTableColumn) string {
	parts := make([]string, len(columns))
	for i, column := range columns {
		width := column.MaxLength
		if width < 1 {
			width = 1
		}
		parts[i] = fmt.Sprintf("%s varchar(%d)", ingest.QuoteIdent(column.Name), width)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", qualifiedTable(schema, table), strings.Join(parts, ", "))
}

func qualifiedTable(schema, table string) string {
	return ingest.QuoteIdent(schema) + "." + ingest.QuoteIdent(table)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func delimiterOrDefault(s *string) string {
	if s == nil || *s == "" {
		return ","
	}
	return *s
}
