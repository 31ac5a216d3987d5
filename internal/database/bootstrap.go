package database

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed seed/*.csv
var seedFiles embed.FS

// ObjectKind labels the class of a schema object.
type ObjectKind string

const (
	ObjectKindEnum     ObjectKind = "enum"
	ObjectKindTable    ObjectKind = "table"
	ObjectKindIndex    ObjectKind = "index"
	ObjectKindFunction ObjectKind = "function"
	ObjectKindTrigger  ObjectKind = "trigger"
)

// SeedSpec loads a default data set into a freshly created table through
// the COPY protocol. Seeding is skipped when the table already has rows.
type SeedSpec struct {
	Table   string
	Columns []string
	File    string
}

// SchemaObject is one DDL statement plus its dependencies. The registry
// of these replaces reflection-driven schema discovery: objects are
// declared explicitly and ordered by a topological sort before execution.
type SchemaObject struct {
	Name      string
	Kind      ObjectKind
	DependsOn []string
	DDL       string
	Seed      *SeedSpec
}

// Bootstrap creates all schema objects in dependency order and loads the
// seed data sets. Every statement is idempotent, so running it against an
// already bootstrapped database is a no-op.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	ordered, err := sortObjects(schemaObjects)
	if err != nil {
		return fmt.Errorf("schema registry: %w", err)
	}

	for _, obj := range ordered {
		if _, err := pool.Exec(ctx, obj.DDL); err != nil {
			return fmt.Errorf("create %s %s: %w", obj.Kind, obj.Name, err)
		}
	}

	for _, obj := range ordered {
		if obj.Seed == nil {
			continue
		}
		if err := seedIfEmpty(ctx, pool, obj.Seed); err != nil {
			return fmt.Errorf("seed %s: %w", obj.Seed.Table, err)
		}
	}

	slog.Info("schema bootstrap complete", "objects", len(ordered))
	return nil
}

// sortObjects orders schema objects so every object appears after its
// dependencies. Declaration order is preserved between independent
// objects to keep the DDL log stable across runs.
func sortObjects(objects []SchemaObject) ([]SchemaObject, error) {
	placed := make(map[string]bool, len(objects))
	ordered := make([]SchemaObject, 0, len(objects))
	remaining := make([]SchemaObject, len(objects))
	copy(remaining, objects)

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, obj := range remaining {
			ready := true
			for _, dep := range obj.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, obj)
				placed[obj.Name] = true
				progressed = true
			} else {
				next = append(next, obj)
			}
		}
		if !progressed {
			names := make([]string, 0, len(next))
			for _, obj := range next {
				names = append(names, obj.Name)
			}
			return nil, fmt.Errorf("dependency cycle or missing dependency among %s", strings.Join(names, ", "))
		}
		remaining = next
	}

	return ordered, nil
}

func seedIfEmpty(ctx context.Context, pool *pgxpool.Pool, seed *SeedSpec) error {
	var count int64
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+seed.Table).Scan(&count); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if count > 0 {
		return nil
	}

	data, err := seedFiles.ReadFile("seed/" + seed.File)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	copySQL := fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)",
		seed.Table, strings.Join(seed.Columns, ", "),
	)
	tag, err := conn.Conn().PgConn().CopyFrom(ctx, bytes.NewReader(data), copySQL)
	if err != nil {
		return fmt.Errorf("copy seed rows: %w", err)
	}

	slog.Info("seeded table", "table", seed.Table, "rows", tag.RowsAffected())
	return nil
}
