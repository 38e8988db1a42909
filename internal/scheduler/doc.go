// Package scheduler implements the campaign run lifecycle: starting and
// stopping runs, resolving a campaign's target lead set, and advancing a
// lead through the campaign's steps after each successful send.
//
// The scheduler only decides and enqueues; it never touches the transport.
// Eligibility is always re-checked at dispatch time by the worker, so a
// stopped run or a freshly bounced lead turns already-queued jobs into
// no-ops rather than requiring queue retraction.
package scheduler
