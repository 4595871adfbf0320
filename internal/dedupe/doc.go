// Package dedupe keeps a bounded, time-limited window of claimed keys.
//
// The gateway uses it for turn idempotency: a client that retries a turn
// with the same Idempotency-Key inside the window gets a conflict instead
// of a second agent run and a second pair of history records.
package dedupe
