// Package queue provides a durable delayed job queue with at-least-once
// delivery, bounded retries with exponential backoff, and dead-lettering.
// The Postgres implementation coordinates competing workers through row
// locks, so no in-process shared state is needed across worker processes.
package queue

import (
	"context"
	"time"
)

// Queue names used by the platform. Defaults mirror each queue's retry
// profile: sends retry fast, bounce sweeps retry slowly.
const (
	QueueSend     = "email-sending"
	QueueFollowUp = "campaign-followup"
	QueueBounce   = "bounce-detection"
)

// Options controls enqueue behavior for a single job.
type Options struct {
	// Delay postpones the job's first eligibility for dispatch.
	Delay time.Duration
	// MaxAttempts bounds delivery attempts before dead-lettering.
	// Zero means the queue default (3).
	MaxAttempts int
	// Backoff is the base for exponential retry delay
	// (base * 2^(attempt-1)). Zero means the queue default (2s).
	Backoff time.Duration
}

// Job is one unit of queued work as seen by a handler.
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Attempt     int // 1-based attempt counter
	MaxAttempts int

	backoff time.Duration // retry base, carried from the jobs row
}

// Outcome classifies how a handler disposed of a job. The distinction
// between a retryable failure and a permanent skip is explicit rather than
// inferred from error types, so the backoff policy never retries a job that
// can never succeed.
type Outcome int

const (
	// OutcomeDone marks the job complete.
	OutcomeDone Outcome = iota
	// OutcomeSkip marks the job complete as a no-op. The lead was
	// ineligible at dispatch time (bounced, no address, account
	// inactive). Never retried.
	OutcomeSkip
	// OutcomeRetry signals a transient failure; the queue reschedules
	// with backoff until MaxAttempts, then dead-letters.
	OutcomeRetry
)

// Result is the tagged handler verdict for one job.
type Result struct {
	Outcome Outcome
	Reason  string // set for OutcomeSkip
	Err     error  // set for OutcomeRetry
}

// Done reports successful completion.
func Done() Result { return Result{Outcome: OutcomeDone} }

// Skip reports a permanent no-op with a reason.
func Skip(reason string) Result { return Result{Outcome: OutcomeSkip, Reason: reason} }

// Retry reports a transient failure to be retried with backoff.
func Retry(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

// Handler processes one job and classifies the outcome.
type Handler func(ctx context.Context, job *Job) Result

// Enqueuer is the producer side of the queue, consumed by the scheduler.
type Enqueuer interface {
	// Enqueue adds a job and returns its ID. The payload is JSON-encoded.
	Enqueue(ctx context.Context, queue string, payload any, opts Options) (string, error)
}

// Consumer is the worker side of the queue.
type Consumer interface {
	// Consume runs up to concurrency workers against the named queue
	// until ctx is canceled. Delivery is at-least-once: a job whose
	// worker crashes mid-processing is redelivered after its lease
	// expires.
	Consume(ctx context.Context, queue string, concurrency int, h Handler) error
}
