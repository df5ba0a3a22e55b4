// Package gateward provides a time-bounded challenge/response verification
// engine: it issues a single-use visual challenge per principal, tracks the
// outstanding session in Redis, enforces a hard timeout with an intermediate
// reminder, and transitions the principal to verified exactly once on a
// correct answer.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build], and multiple processes may share the same Redis backend.
//
// # Architecture boundaries
//
// gateward is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([ChallengeGenerator], [NotificationSink],
// [AccessGrantor], [AuditSink]), and value types (VerificationSession,
// VerificationSettings, MetricsSnapshot). Answer normalization and hashing
// live under internal/ and are never exported.
//
// # Concurrency contract
//
// All status transitions on a session go through a Redis WATCH
// compare-and-swap on the per-principal pending key. That CAS, not any
// in-process lock, is the serialization point: two concurrent submissions
// for the same principal cannot both win the Pending -> Verified transition,
// and an expiry callback racing a last-moment correct answer is resolved by
// whichever transition commits first. Reminder and expiry timers are owned by
// the Engine in a mutex-guarded map keyed by session id; cancelling a timer
// that already fired is a no-op.
package gateward
