// Package task is the compile-time catalog of runnable pipeline steps.
// Every seeded catalog row's task_class must resolve to an entry here;
// entries are plain run functions, tagged User or System, closing over
// the shared environment.
package task

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/filestore"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// Task class keys, matching the seeded catalog.
const (
	ClassScanSourceFolder     = "scan_source_folder"
	ClassDownloadMissingFiles = "download_missing_files"
	ClassConfirmCollection    = "confirm_collection"
	ClassAnalyzeFiles         = "analyze_files"
	ClassLoadFiles            = "load_files"
	ClassValidateLoad         = "validate_load"
	ClassConfirmQA            = "confirm_qa"
)

// Kind separates interactive steps from worker-executed ones.
type Kind int

const (
	// KindUser tasks run synchronously inside the request handler.
	KindUser Kind = iota
	// KindSystem tasks run on the worker pool via the job queue.
	KindSystem
)

func (k Kind) String() string {
	if k == KindUser {
		return "User"
	}
	return "System"
}

// Env is the shared environment task bodies run against.
type Env struct {
	DB    *gorm.DB
	Pool  *pgxpool.Pool
	Files *filestore.Service
	// LoadSchema is the database schema loaded tables are created in.
	LoadSchema string
}

// RunFunc executes one task against its pipeline-run-task row.
type RunFunc func(ctx context.Context, env *Env, rec *model.PipelineRunTask) error

// Entry is one catalog implementation.
type Entry struct {
	Class string
	Kind  Kind
	Run   RunFunc
}

// Registry maps task classes to their implementations.
type Registry struct {
	env     *Env
	entries map[string]Entry
}

// NewRegistry builds the catalog over the given environment.
func NewRegistry(env *Env) *Registry {
	r := &Registry{env: env, entries: make(map[string]Entry)}
	r.register(Entry{Class: ClassScanSourceFolder, Kind: KindSystem, Run: runScanSourceFolder})
	r.register(Entry{Class: ClassDownloadMissingFiles, Kind: KindSystem, Run: runDownloadMissingFiles})
	r.register(Entry{Class: ClassConfirmCollection, Kind: KindUser, Run: runConfirmCollection})
	r.register(Entry{Class: ClassAnalyzeFiles, Kind: KindSystem, Run: runAnalyzeFiles})
	r.register(Entry{Class: ClassLoadFiles, Kind: KindSystem, Run: runLoadFiles})
	r.register(Entry{Class: ClassValidateLoad, Kind: KindSystem, Run: runValidateLoad})
	r.register(Entry{Class: ClassConfirmQA, Kind: KindUser, Run: runConfirmQA})
	return r
}

func (r *Registry) register(entry Entry) {
	if _, exists := r.entries[entry.Class]; exists {
		panic("duplicate task class " + entry.Class)
	}
	r.entries[entry.Class] = entry
}

// Lookup returns the implementation for a task class.
func (r *Registry) Lookup(class string) (Entry, bool) {
	entry, ok := r.entries[class]
	return entry, ok
}

// Execute runs the implementation of one task record.
func (r *Registry) Execute(ctx context.Context, rec *model.PipelineRunTask) error {
	entry, ok := r.Lookup(rec.Task.TaskClass)
	if !ok {
		return fmt.Errorf("no implementation for task class %q", rec.Task.TaskClass)
	}
	return entry.Run(ctx, r.env, rec)
}

// Validate checks that every seeded catalog row resolves to an entry.
// Called at boot so a seed/registry mismatch fails fast.
func (r *Registry) Validate(ctx context.Context, db *gorm.DB) error {
	var classes []string
	if err := db.WithContext(ctx).Model(&model.Task{}).Pluck("task_class", &classes).Error; err != nil {
		return fmt.Errorf("read task catalog: %w", err)
	}
	for _, class := range classes {
		if _, ok := r.entries[class]; !ok {
			return fmt.Errorf("seeded task class %q has no implementation", class)
		}
	}
	return nil
}
