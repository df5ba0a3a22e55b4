package internaldefs

import (
	gateward "github.com/gateward/gateward"
)

// CounterDef defines a public type used by gateward APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   gateward.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by gateward APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   gateward.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the verification engine.
var CounterDefs = []CounterDef{
	{ID: gateward.MetricSessionStarted, Name: "gateward_session_started_total", Help: "Opened verification sessions."},
	{ID: gateward.MetricSecretRotated, Name: "gateward_secret_rotated_total", Help: "In-place secret rotations on repeated starts."},
	{ID: gateward.MetricStartRateLimited, Name: "gateward_start_rate_limited_total", Help: "Rate-limited session start requests."},
	{ID: gateward.MetricVerifySuccess, Name: "gateward_verify_success_total", Help: "Successful answer verifications."},
	{ID: gateward.MetricVerifyRejected, Name: "gateward_verify_rejected_total", Help: "Rejected answer submissions."},
	{ID: gateward.MetricVerifyNoSession, Name: "gateward_verify_no_session_total", Help: "Answer submissions without a pending session."},
	{ID: gateward.MetricAnswerRateLimited, Name: "gateward_answer_rate_limited_total", Help: "Rate-limited answer submissions."},
	{ID: gateward.MetricAttemptsExceeded, Name: "gateward_attempts_exceeded_total", Help: "Sessions invalidated due to the wrong-answer cap."},
	{ID: gateward.MetricSessionExpired, Name: "gateward_session_expired_total", Help: "Sessions resolved as expired."},
	{ID: gateward.MetricSessionCancelled, Name: "gateward_session_cancelled_total", Help: "Sessions resolved as cancelled."},
	{ID: gateward.MetricReminderSent, Name: "gateward_reminder_sent_total", Help: "Reminder notifications delivered."},
	{ID: gateward.MetricSessionRecovered, Name: "gateward_session_recovered_total", Help: "Pending sessions re-armed after a restart."},
	{ID: gateward.MetricGrantFailure, Name: "gateward_grant_failure_total", Help: "Access grant failures after a committed verification."},
	{ID: gateward.MetricNotifyFailure, Name: "gateward_notify_failure_total", Help: "Failed notification deliveries."},
	{ID: gateward.MetricRateLimitHit, Name: "gateward_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}

// HistogramDefs is an exported constant or variable used by the verification engine.
var HistogramDefs = []HistogramDef{
	{ID: gateward.MetricSubmitLatency, Name: "gateward_submit_latency_seconds", Help: "Answer submission latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the verification engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the verification engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
