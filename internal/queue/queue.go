// Package queue is the durable FIFO of scheduled system-task jobs.
// Jobs live in the pipeline_jobs table; enqueue happens inside the
// caller's transaction so a job exists exactly when its task row says
// Scheduled, and workers claim jobs with SKIP LOCKED leases so a
// crashed worker's jobs become reclaimable once the lease expires.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
)

// Job is one scheduled system-task invocation.
type Job struct {
	JobID        int64      `gorm:"column:job_id;primaryKey;autoIncrement" json:"jobId"`
	PrTaskID     int64      `gorm:"column:pr_task_id;not null" json:"prTaskId"`
	RunID        int64      `gorm:"column:run_id;not null" json:"runId"`
	TaskClass    string     `gorm:"type:varchar(100);column:task_class;not null" json:"taskClass"`
	RunNext      bool       `gorm:"column:run_next;not null;default:false" json:"runNext"`
	ScheduledAt  time.Time  `gorm:"type:timestamptz;column:scheduled_at;not null;default:now()" json:"scheduledAt"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	LeaseHolder  *string    `gorm:"type:varchar(255);column:lease_holder" json:"leaseHolder,omitempty"`
	LeaseExpires *time.Time `gorm:"type:timestamptz;column:lease_expires" json:"leaseExpires,omitempty"`
}

func (j *Job) TableName() string {
	return "pipeline_jobs"
}

const dequeueSQL = `
UPDATE pipeline_jobs
SET lease_holder = $1,
    lease_expires = now() + make_interval(secs => $2),
    attempt_count = attempt_count + 1
WHERE job_id = (
    SELECT job_id
    FROM pipeline_jobs
    WHERE lease_expires IS NULL OR lease_expires < now()
    ORDER BY scheduled_at, job_id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING job_id, pr_task_id, run_id, task_class, run_next, scheduled_at, attempt_count`

// Queue hands jobs between the task engine and the worker pool.
type Queue struct {
	pool    *pgxpool.Pool
	channel string
	lease   time.Duration
}

// New creates a queue over the given pool. channel is the notification
// channel workers listen on for wakeups; lease is how long a claimed
// job stays invisible to other workers between heartbeats.
func New(pool *pgxpool.Pool, channel string, lease time.Duration) *Queue {
	return &Queue{pool: pool, channel: channel, lease: lease}
}

// Channel returns the wakeup notification channel name.
func (q *Queue) Channel() string {
	return q.channel
}

// EnqueueTx inserts a job inside the caller's transaction and notifies
// listening workers. The notification fires only if the transaction
// commits, so workers never wake for rolled-back jobs.
func (q *Queue) EnqueueTx(tx *gorm.DB, prTaskID, runID int64, taskClass string, runNext bool) error {
	job := &Job{
		PrTaskID:  prTaskID,
		RunID:     runID,
		TaskClass: taskClass,
		RunNext:   runNext,
	}
	if err := tx.Create(job).Error; err != nil {
		return fmt.Errorf("enqueue job for task %d: %w", prTaskID, err)
	}
	if err := tx.Exec("SELECT pg_notify(?, '')", q.channel).Error; err != nil {
		return fmt.Errorf("notify workers: %w", err)
	}
	return nil
}

// Dequeue claims the next ready job for holder, taking a lease. Returns
// nil when no job is ready.
func (q *Queue) Dequeue(ctx context.Context, holder string) (*Job, error) {
	var job Job
	err := q.pool.QueryRow(ctx, dequeueSQL, holder, q.lease.Seconds()).Scan(
		&job.JobID, &job.PrTaskID, &job.RunID, &job.TaskClass,
		&job.RunNext, &job.ScheduledAt, &job.AttemptCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	job.LeaseHolder = &holder
	return &job, nil
}

// ExtendLease refreshes the lease on a claimed job. Returns an error
// when the holder no longer owns the job.
func (q *Queue) ExtendLease(ctx context.Context, jobID int64, holder string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE pipeline_jobs
		 SET lease_expires = now() + make_interval(secs => $1)
		 WHERE job_id = $2 AND lease_holder = $3`,
		q.lease.Seconds(), jobID, holder,
	)
	if err != nil {
		return fmt.Errorf("extend lease on job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lease on job %d lost by %s", jobID, holder)
	}
	return nil
}

// Release puts a claimed job back in the ready set, for workers that
// claimed a job but could not take the task row lock.
func (q *Queue) Release(ctx context.Context, jobID int64) error {
	if _, err := q.pool.Exec(ctx,
		`UPDATE pipeline_jobs SET lease_holder = NULL, lease_expires = NULL WHERE job_id = $1`,
		jobID,
	); err != nil {
		return fmt.Errorf("release job %d: %w", jobID, err)
	}
	return nil
}

// Delete removes a handled job. Jobs are deleted whether the task
// succeeded or failed; retry is a user-driven reset-then-run.
func (q *Queue) Delete(ctx context.Context, jobID int64) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM pipeline_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job %d: %w", jobID, err)
	}
	return nil
}

// HasLiveLease reports whether any job for the given task row holds an
// unexpired lease. The startup sweep uses this to tell an in-flight
// task from one abandoned by a dead worker.
func (q *Queue) HasLiveLease(ctx context.Context, prTaskID int64) (bool, error) {
	var live bool
	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM pipeline_jobs
		    WHERE pr_task_id = $1 AND lease_expires > now()
		 )`, prTaskID,
	).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("check lease for task %d: %w", prTaskID, err)
	}
	return live, nil
}
