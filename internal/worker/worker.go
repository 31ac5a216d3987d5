// Package worker runs the system-task job loop. A pool of goroutines
// claims jobs from the queue, takes the task row through
// Scheduled-Running-terminal, and chains the run's next system task
// when the job carries the run-next flag. Workers wake on the queue's
// notification channel with a polling ticker as the fallback.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/config"
	"github.com/OpenPipe/pipeline/internal/notify"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
	"github.com/OpenPipe/pipeline/internal/pipeline/service"
	"github.com/OpenPipe/pipeline/internal/queue"
	"github.com/OpenPipe/pipeline/internal/task"
)

// abandonedMessage marks tasks reaped by the startup sweep.
const abandonedMessage = "abandoned by worker"

// Pool executes queued system-task jobs.
type Pool struct {
	cfg      config.WorkerConfig
	db       *gorm.DB
	queue    *queue.Queue
	tasks    *service.TaskService
	registry *task.Registry
	source   notify.Source
	identity string
}

// NewPool creates a worker pool. source delivers queue wakeup
// notifications; the pool still polls at the configured interval so a
// lost notification only delays a job.
func NewPool(cfg config.WorkerConfig, db *gorm.DB, q *queue.Queue, tasks *service.TaskService, registry *task.Registry, source notify.Source) *Pool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return &Pool{
		cfg:      cfg,
		db:       db,
		queue:    q,
		tasks:    tasks,
		registry: registry,
		source:   source,
		// Unique per process so leases of a restarted worker are never
		// mistaken for its predecessor's.
		identity: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
	}
}

// Run blocks executing jobs until the context is cancelled. The sweep
// of abandoned tasks runs once before any job is claimed.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.SweepAbandoned(ctx); err != nil {
		return fmt.Errorf("sweep abandoned tasks: %w", err)
	}

	wake := make(chan struct{}, 1)
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		p.listen(ctx, wake)
		return nil
	})
	for i := 0; i < p.cfg.Count; i++ {
		holder := fmt.Sprintf("%s-%d", p.identity, i)
		group.Go(func() error {
			p.work(ctx, holder, wake)
			return nil
		})
	}
	return group.Wait()
}

// listen turns queue notifications into wakeups, restarting the
// listener connection when it fails.
func (p *Pool) listen(ctx context.Context, wake chan<- struct{}) {
	for {
		err := p.source.Listen(ctx, p.queue.Channel(), func(string) {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		if ctx.Err() != nil {
			return
		}
		slog.Warn("queue listener failed, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// work is one worker goroutine: drain the queue, then sleep until a
// wakeup or the poll ticker fires.
func (p *Pool) work(ctx context.Context, holder string, wake <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.Poll())
	defer ticker.Stop()

	for {
		p.drain(ctx, holder)
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// drain claims and processes jobs until the queue is empty.
func (p *Pool) drain(ctx context.Context, holder string) {
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, holder)
		if err != nil {
			slog.Error("failed to dequeue job", "holder", holder, "error", err)
			return
		}
		if job == nil {
			return
		}
		p.process(ctx, holder, job)
	}
}

// process takes one claimed job through claim, execute and terminal
// write, then schedules the run's next task when the job chains.
func (p *Pool) process(ctx context.Context, holder string, job *queue.Job) {
	logger := slog.With("holder", holder, "job_id", job.JobID, "pr_task_id", job.PrTaskID, "task_class", job.TaskClass)

	rec, err := p.tasks.ClaimTask(ctx, job.PrTaskID)
	if errors.Is(err, service.ErrTaskLocked) {
		// Another worker holds the task row; put the job back.
		if err := p.queue.Release(ctx, job.JobID); err != nil {
			logger.Error("failed to release job", "error", err)
		}
		return
	}
	if err != nil {
		// The task row is gone or no longer Scheduled (reset while the
		// job sat in the queue). The job is stale either way.
		logger.Warn("dropping stale job", "error", err)
		p.deleteJob(ctx, logger, job)
		return
	}

	runErr := p.execute(ctx, holder, job, rec)
	if runErr != nil {
		logger.Error("task failed", "error", runErr)
		if err := p.tasks.FailTask(ctx, job.PrTaskID, apperr.Message(runErr)); err != nil {
			logger.Error("failed to record task failure", "error", err)
		}
		p.deleteJob(ctx, logger, job)
		return
	}

	if err := p.tasks.CompleteTask(ctx, job.PrTaskID); err != nil {
		logger.Error("failed to record task completion", "error", err)
		p.deleteJob(ctx, logger, job)
		return
	}
	logger.Info("task complete")
	p.deleteJob(ctx, logger, job)

	if job.RunNext {
		scheduled, err := p.tasks.ScheduleNext(ctx, job.RunID)
		if err != nil {
			logger.Error("failed to schedule next task", "error", err)
			return
		}
		if scheduled {
			logger.Info("chained next task", "run_id", job.RunID)
		}
	}
}

// execute runs the task body under a lease heartbeat. Losing the lease
// cancels the body's context.
func (p *Pool) execute(ctx context.Context, holder string, job *queue.Job, rec *model.PipelineRunTask) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(p.cfg.Heartbeat())
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(taskCtx, job.JobID, holder); err != nil {
					slog.Error("lost job lease, cancelling task",
						"job_id", job.JobID, "holder", holder, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	err := p.registry.Execute(taskCtx, rec)
	cancel()
	<-heartbeatDone
	return err
}

func (p *Pool) deleteJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if err := p.queue.Delete(ctx, job.JobID); err != nil {
		logger.Error("failed to delete job", "error", err)
	}
}

// SweepAbandoned fails Running tasks whose job lease died with its
// worker. Runs at pool startup, before jobs are claimed, so a crashed
// deployment's tasks surface as Failed instead of hanging in Running.
func (p *Pool) SweepAbandoned(ctx context.Context) error {
	var stuck []model.PipelineRunTask
	err := p.db.WithContext(ctx).
		Where("task_status = ?", model.TaskStatusRunning).
		Find(&stuck).Error
	if err != nil {
		return fmt.Errorf("list running tasks: %w", err)
	}

	for i := range stuck {
		live, err := p.queue.HasLiveLease(ctx, stuck[i].PrTaskID)
		if err != nil {
			return err
		}
		if live {
			continue
		}
		slog.Warn("reaping abandoned task", "pr_task_id", stuck[i].PrTaskID, "run_id", stuck[i].RunID)
		if err := p.tasks.FailTask(ctx, stuck[i].PrTaskID, abandonedMessage); err != nil {
			return fmt.Errorf("fail abandoned task %d: %w", stuck[i].PrTaskID, err)
		}
	}
	return nil
}
