// Package delivery implements the outbound notification engine: enqueue,
// policy filters (opt-out, quiet hours, soft rate limit), provider delivery,
// error classification, and time-based retry backoff. Rows are the only
// retry state; schedules survive process restarts.
package delivery
