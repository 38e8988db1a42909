package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/logger"
)

const (
	defaultMaxAttempts  = 3
	defaultBackoff      = 2 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	// leaseTimeout bounds how long a claimed job stays invisible. A worker
	// that dies mid-job loses its claim after this window and the job is
	// redelivered (at-least-once).
	leaseTimeout = 5 * time.Minute
)

// PGQueue implements Enqueuer and Consumer on a Postgres jobs table.
// Claiming uses FOR UPDATE SKIP LOCKED so competing workers never block
// each other or double-claim a row within a lease window.
type PGQueue struct {
	db           *sql.DB
	workerID     string
	pollInterval time.Duration

	processed int64
	skipped   int64
	retried   int64
}

// NewPGQueue creates a Postgres-backed queue client.
func NewPGQueue(db *sql.DB) *PGQueue {
	return &PGQueue{
		db:           db,
		workerID:     fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval overrides the idle poll interval.
func (q *PGQueue) SetPollInterval(d time.Duration) { q.pollInterval = d }

// Enqueue adds a job. Delay shifts run_at into the future; the job is
// invisible to Consume until then.
func (q *PGQueue) Enqueue(ctx context.Context, queue string, payload any, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	id := uuid.New().String()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, payload, status, attempts, max_attempts, backoff_ms, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', 0, $4, $5, NOW() + $6 * INTERVAL '1 millisecond', NOW(), NOW())
	`, id, queue, data, maxAttempts, backoff.Milliseconds(), opts.Delay.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return id, nil
}

// Consume runs up to concurrency workers against the named queue until ctx
// is canceled.
func (q *PGQueue) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	logger.Info("queue consumer starting", "queue", queue, "concurrency", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.workerLoop(ctx, queue, n, h)
		}(i)
	}
	wg.Wait()

	logger.Info("queue consumer stopped", "queue", queue,
		"processed", atomic.LoadInt64(&q.processed),
		"skipped", atomic.LoadInt64(&q.skipped),
		"retried", atomic.LoadInt64(&q.retried))
	return nil
}

func (q *PGQueue) workerLoop(ctx context.Context, queue string, n int, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.claim(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", "queue", queue, "worker", n, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			sleepCtx(ctx, q.pollInterval)
			continue
		}

		q.dispose(ctx, job, h(ctx, job))
	}
}

// claim picks the oldest eligible job: queued and due, or processing with an
// expired lease.
func (q *PGQueue) claim(ctx context.Context, queue string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    worker_id = $1,
		    locked_at = NOW(),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $2
			  AND run_at <= NOW()
			  AND (status = 'queued'
			       OR (status = 'processing' AND locked_at < NOW() - INTERVAL '5 minutes'))
			ORDER BY run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload, attempts, max_attempts, backoff_ms
	`, q.workerID, queue)

	job := &Job{Queue: queue}
	var backoffMS int64
	err := row.Scan(&job.ID, &job.Payload, &job.Attempt, &job.MaxAttempts, &backoffMS)
	if err == nil {
		job.backoff = time.Duration(backoffMS) * time.Millisecond
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}
	return job, nil
}

func (q *PGQueue) dispose(ctx context.Context, job *Job, res Result) {
	// Use a fresh timeout; the worker ctx may already be canceled and the
	// verdict still has to be recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch res.Outcome {
	case OutcomeDone:
		atomic.AddInt64(&q.processed, 1)
		q.setStatus(ctx, job.ID, "done", "")
	case OutcomeSkip:
		atomic.AddInt64(&q.skipped, 1)
		q.setStatus(ctx, job.ID, "skipped", res.Reason)
	case OutcomeRetry:
		atomic.AddInt64(&q.retried, 1)
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if job.Attempt >= job.MaxAttempts {
			logger.Warn("job dead-lettered", "queue", job.Queue, "job", job.ID,
				"attempts", job.Attempt, "error", errMsg)
			q.setStatus(ctx, job.ID, "dead_letter", errMsg)
			return
		}
		base := job.backoff
		if base <= 0 {
			base = defaultBackoff
		}
		delay := Backoff(base, job.Attempt)
		_, err := q.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'queued',
			    last_error = $2,
			    run_at = NOW() + $3 * INTERVAL '1 millisecond',
			    updated_at = NOW()
			WHERE id = $1
		`, job.ID, errMsg, delay.Milliseconds())
		if err != nil {
			logger.Error("reschedule failed", "job", job.ID, "error", err)
		}
	}
}

func (q *PGQueue) setStatus(ctx context.Context, id, status, detail string) {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, detail)
	if err != nil {
		logger.Error("job status update failed", "job", id, "status", status, "error", err)
	}
}

// Backoff returns base * 2^(attempt-1), capped at one hour. Attempt is the
// count already consumed, so the first retry of a 2s base waits 2s, the
// second 4s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
